package model

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubHandle struct {
	closed atomic.Bool
}

func (h *stubHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type stubEngine struct {
	loads      atomic.Int32
	loadErr    error
	transcript string
	err        error
	loadDelay  time.Duration
}

func (e *stubEngine) Load(ctx context.Context, path string) (Handle, error) {
	if e.loadDelay > 0 {
		select {
		case <-time.After(e.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	e.loads.Add(1)
	return &stubHandle{}, nil
}

func (e *stubEngine) Transcribe(ctx context.Context, h Handle, samples []float32, sampleRate, channels int, language string) (string, error) {
	return e.transcript, e.err
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-test.bin")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return path
}

func newTestManager(t *testing.T, engine Engine, modelPath string, timeout time.Duration) *Manager {
	t.Helper()
	mgr, err := NewManager(engine, modelPath, "en", timeout, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return mgr
}

func TestEnsureLoadedLoadsOnce(t *testing.T) {
	engine := &stubEngine{transcript: "hello", loadDelay: 10 * time.Millisecond}
	mgr := newTestManager(t, engine, writeModelFile(t), time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mgr.EnsureLoaded(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("EnsureLoaded %d failed: %v", i, err)
		}
	}
	if got := engine.loads.Load(); got != 1 {
		t.Fatalf("expected a single load, got %d", got)
	}
	if !mgr.IsLoaded() {
		t.Fatal("manager should report loaded")
	}
}

func TestEnsureLoadedMissingModel(t *testing.T) {
	engine := &stubEngine{}
	mgr := newTestManager(t, engine, filepath.Join(t.TempDir(), "absent.bin"), time.Minute)

	err := mgr.EnsureLoaded(context.Background())
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if mgr.IsLoaded() {
		t.Fatal("manager should not report loaded after failure")
	}
}

func TestTranscribeRequiresLoad(t *testing.T) {
	mgr := newTestManager(t, &stubEngine{}, writeModelFile(t), time.Minute)
	if _, err := mgr.Transcribe(context.Background(), []float32{0.1}, 16000, 1); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestTranscribeNoSpeechSentinel(t *testing.T) {
	engine := &stubEngine{transcript: "   "}
	mgr := newTestManager(t, engine, writeModelFile(t), time.Minute)
	if err := mgr.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded failed: %v", err)
	}

	text, err := mgr.Transcribe(context.Background(), make([]float32, 100), 16000, 1)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != NoSpeech {
		t.Fatalf("expected no-speech sentinel, got %q", text)
	}
}

func TestUnloadIfIdle(t *testing.T) {
	engine := &stubEngine{transcript: "hi"}
	mgr := newTestManager(t, engine, writeModelFile(t), 10*time.Millisecond)
	if err := mgr.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded failed: %v", err)
	}

	if mgr.UnloadIfIdle() {
		t.Fatal("model should not unload before the idle timeout")
	}
	time.Sleep(20 * time.Millisecond)
	if !mgr.UnloadIfIdle() {
		t.Fatal("model should unload once idle")
	}
	if mgr.IsLoaded() {
		t.Fatal("manager should report unloaded")
	}

	// A reload after idle unload must work.
	if err := mgr.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := engine.loads.Load(); got != 2 {
		t.Fatalf("expected reload to hit the engine, got %d loads", got)
	}
}

func TestUnloadImmediate(t *testing.T) {
	engine := &stubEngine{}
	mgr := newTestManager(t, engine, writeModelFile(t), time.Hour)
	if err := mgr.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded failed: %v", err)
	}
	if err := mgr.Unload(context.Background()); err != nil {
		t.Fatalf("Unload failed: %v", err)
	}
	if mgr.IsLoaded() {
		t.Fatal("manager should report unloaded")
	}
}

func TestCollapseTranscript(t *testing.T) {
	raw := "\n first segment \n\nsecond segment\n"
	if got := collapseTranscript(raw); got != "first segment second segment" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	blob := encodeWAV(make([]float32, 16000), 16000, 1)
	if len(blob) != 44+32000 {
		t.Fatalf("unexpected wav size: %d", len(blob))
	}
	if string(blob[0:4]) != "RIFF" || string(blob[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(blob[24:28]); rate != 16000 {
		t.Fatalf("unexpected sample rate in header: %d", rate)
	}
	if bits := binary.LittleEndian.Uint16(blob[34:36]); bits != 16 {
		t.Fatalf("unexpected bit depth: %d", bits)
	}
}

func TestEncodeWAVClamps(t *testing.T) {
	blob := encodeWAV([]float32{2.0, -2.0}, 16000, 1)
	first := int16(binary.LittleEndian.Uint16(blob[44:46]))
	second := int16(binary.LittleEndian.Uint16(blob[46:48]))
	if first != 32767 {
		t.Fatalf("positive overflow not clamped: %d", first)
	}
	if second != -32767 {
		t.Fatalf("negative overflow not clamped: %d", second)
	}
}

func TestExecEngineTranscribeInvokesRunner(t *testing.T) {
	var gotArgs []string
	engine := NewExecEngine("whisper-cli")
	engine.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("transcribed text\n"), nil
	}

	text, err := engine.Transcribe(context.Background(), execHandle{modelPath: "/models/base.bin"},
		make([]float32, 1600), 16000, 1, "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "transcribed text" {
		t.Fatalf("unexpected transcript: %q", text)
	}
	if gotArgs[0] != "whisper-cli" {
		t.Fatalf("wrong binary invoked: %v", gotArgs)
	}
	joined := ""
	for i := 0; i < len(gotArgs)-1; i++ {
		if gotArgs[i] == "-m" {
			joined = gotArgs[i+1]
		}
	}
	if joined != "/models/base.bin" {
		t.Fatalf("model path not passed: %v", gotArgs)
	}
}
