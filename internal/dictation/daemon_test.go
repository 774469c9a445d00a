package dictation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"murmur/internal/model"
	"murmur/internal/protocol"
	"murmur/internal/testsupport"
)

type fakeHandle struct{}

func (fakeHandle) Close() error { return nil }

type fakeEngine struct {
	transcript string
	loadErr    error
	err        error
}

func (e *fakeEngine) Load(ctx context.Context, path string) (model.Handle, error) {
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return fakeHandle{}, nil
}

func (e *fakeEngine) Transcribe(ctx context.Context, h model.Handle, samples []float32, sampleRate, channels int, language string) (string, error) {
	return e.transcript, e.err
}

func newTestDaemon(t *testing.T, engine model.Engine) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	mgr, err := model.NewManager(engine, cfg.Whisper.ModelPath, "en", time.Minute, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	d, err := New(cfg, mgr, nil, func() {})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

// reply returns the final frame of a Handle result.
func reply(t *testing.T, frames []protocol.DaemonMessage) protocol.DaemonMessage {
	t.Helper()
	if len(frames) == 0 {
		t.Fatal("expected at least one frame")
	}
	return frames[len(frames)-1]
}

func TestStartStreamStopScenario(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{transcript: "hello world"})
	ctx := context.Background()

	startFrames := d.Handle(ctx, protocol.StartRecording{})
	started, ok := reply(t, startFrames).(protocol.RecordingStarted)
	if !ok {
		t.Fatalf("expected RecordingStarted, got %T", reply(t, startFrames))
	}
	if started.SessionID == "" {
		t.Fatal("empty session id")
	}

	chunk := protocol.AudioChunk{
		SessionID:  started.SessionID,
		Samples:    make([]float32, 16000),
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Now(),
	}
	ack, ok := reply(t, d.Handle(ctx, chunk)).(protocol.TranscriptionUpdate)
	if !ok {
		t.Fatalf("expected TranscriptionUpdate ack")
	}
	if ack.SessionID != started.SessionID || ack.IsFinal {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	frames := d.Handle(ctx, protocol.StopRecording{})
	result, ok := reply(t, frames).(protocol.TranscriptionSession)
	if !ok {
		t.Fatalf("expected TranscriptionComplete, got %T", reply(t, frames))
	}
	if result.ID != started.SessionID {
		t.Fatalf("result for wrong session: %s", result.ID)
	}
	if result.Status.State != protocol.StatusCompleted {
		t.Fatalf("expected Completed, got %+v", result.Status)
	}
	if result.Text != "hello world" {
		t.Fatalf("unexpected transcript: %q", result.Text)
	}

	var sawProcessing bool
	for _, frame := range frames {
		if _, ok := frame.(protocol.ProcessingStarted); ok {
			sawProcessing = true
		}
	}
	if !sawProcessing {
		t.Fatal("missing ProcessingStarted notification")
	}

	if d.ActiveSessions() != 0 {
		t.Fatalf("registry should be empty after stop, got %d", d.ActiveSessions())
	}
}

func TestStopWithoutSessions(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{})
	frames := d.Handle(context.Background(), protocol.StopRecording{})
	if len(frames) != 1 {
		t.Fatalf("expected a lone RecordingStopped, got %d frames", len(frames))
	}
	if _, ok := frames[0].(protocol.RecordingStopped); !ok {
		t.Fatalf("expected RecordingStopped, got %T", frames[0])
	}
}

func TestStatusBeforeStart(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{})
	status, ok := reply(t, d.Handle(context.Background(), protocol.GetStatus{})).(protocol.DaemonStatus)
	if !ok {
		t.Fatal("expected Status reply")
	}
	if status.ModelLoaded {
		t.Fatal("model should not be loaded before first start")
	}
	if len(status.ActiveSessions) != 0 {
		t.Fatalf("expected no active sessions, got %v", status.ActiveSessions)
	}
	if status.BufferSize != 1024 || status.AudioDevice != "default" {
		t.Fatalf("status missing audio settings: %+v", status)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{})
	chunk := protocol.AudioChunk{
		SessionID: "7b2f1a90-70a4-4f0a-9a3e-2f9f64f0a111",
		Samples:   []float32{0.1},
	}
	errMsg, ok := reply(t, d.Handle(context.Background(), chunk)).(protocol.Error)
	if !ok {
		t.Fatal("expected Error reply")
	}
	if errMsg.Message != "session not found" {
		t.Fatalf("unexpected message: %q", errMsg.Message)
	}
}

func TestStreamInvalidSessionID(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{})
	chunk := protocol.AudioChunk{SessionID: "not-a-uuid", Samples: []float32{0.1}}
	if _, ok := reply(t, d.Handle(context.Background(), chunk)).(protocol.Error); !ok {
		t.Fatal("expected Error reply for invalid id")
	}
}

func TestStartUnwindsOnLoadFailure(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{loadErr: errors.New("corrupt model")})
	errMsg, ok := reply(t, d.Handle(context.Background(), protocol.StartRecording{})).(protocol.Error)
	if !ok {
		t.Fatal("expected Error reply")
	}
	if !strings.Contains(errMsg.Message, "failed to load model") {
		t.Fatalf("unexpected message: %q", errMsg.Message)
	}
	if d.ActiveSessions() != 0 {
		t.Fatal("failed start must not leave a session registered")
	}
}

func TestStopReportsTranscriptionFailure(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{err: errors.New("inference exploded")})
	ctx := context.Background()

	started := reply(t, d.Handle(ctx, protocol.StartRecording{})).(protocol.RecordingStarted)
	d.Handle(ctx, protocol.AudioChunk{
		SessionID:  started.SessionID,
		Samples:    make([]float32, 100),
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Now(),
	})

	result, ok := reply(t, d.Handle(ctx, protocol.StopRecording{})).(protocol.TranscriptionSession)
	if !ok {
		t.Fatal("expected TranscriptionComplete reply")
	}
	if result.Status.State != protocol.StatusFailed {
		t.Fatalf("expected Failed status, got %+v", result.Status)
	}
	if !strings.Contains(result.Status.Reason, "inference exploded") {
		t.Fatalf("failure reason missing: %q", result.Status.Reason)
	}
}

func TestNoSpeechSentinelFlowsThrough(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{transcript: ""})
	ctx := context.Background()

	started := reply(t, d.Handle(ctx, protocol.StartRecording{})).(protocol.RecordingStarted)
	d.Handle(ctx, protocol.AudioChunk{
		SessionID:  started.SessionID,
		Samples:    make([]float32, 100),
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Now(),
	})

	result := reply(t, d.Handle(ctx, protocol.StopRecording{})).(protocol.TranscriptionSession)
	if result.Text != model.NoSpeech {
		t.Fatalf("expected no-speech sentinel, got %q", result.Text)
	}
	if result.Status.State != protocol.StatusCompleted {
		t.Fatalf("no speech is still a completed session, got %+v", result.Status)
	}
}

func TestClearSession(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{transcript: "ignored"})
	ctx := context.Background()

	d.Handle(ctx, protocol.StartRecording{})
	if d.ActiveSessions() != 1 {
		t.Fatalf("expected one session, got %d", d.ActiveSessions())
	}

	if _, ok := reply(t, d.Handle(ctx, protocol.ClearSession{})).(protocol.SessionCleared); !ok {
		t.Fatal("expected SessionCleared reply")
	}
	if d.ActiveSessions() != 0 {
		t.Fatal("sessions should be gone after clear")
	}

	// Nothing left to transcribe.
	frames := d.Handle(ctx, protocol.StopRecording{})
	if _, ok := frames[0].(protocol.RecordingStopped); !ok {
		t.Fatalf("expected RecordingStopped after clear, got %T", frames[0])
	}
}

func TestSetSensitivityClampsAndReportsStatus(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{})
	ctx := context.Background()

	status, ok := reply(t, d.Handle(ctx, protocol.SetSensitivity{Value: 1.7})).(protocol.DaemonStatus)
	if !ok {
		t.Fatal("expected Status reply")
	}
	if status.VADSensitivity != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %f", status.VADSensitivity)
	}

	status = reply(t, d.Handle(ctx, protocol.SetSensitivity{Value: -0.3})).(protocol.DaemonStatus)
	if status.VADSensitivity != 0 {
		t.Fatalf("expected clamp to 0, got %f", status.VADSensitivity)
	}
}

func TestVoiceActivityNotifications(t *testing.T) {
	d := newTestDaemon(t, &fakeEngine{transcript: "x"})
	ctx := context.Background()

	started := reply(t, d.Handle(ctx, protocol.StartRecording{})).(protocol.RecordingStarted)
	loud := protocol.AudioChunk{
		SessionID:  started.SessionID,
		Samples:    []float32{0.9},
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Now(),
	}
	quiet := loud
	quiet.Samples = []float32{0.001}

	frames := d.Handle(ctx, loud)
	if !containsFrame[protocol.VoiceActivityDetected](frames) {
		t.Fatalf("loud chunk should trigger VoiceActivityDetected: %#v", frames)
	}
	frames = d.Handle(ctx, loud)
	if containsFrame[protocol.VoiceActivityDetected](frames) {
		t.Fatal("sustained speech should not re-trigger detection")
	}
	frames = d.Handle(ctx, quiet)
	if !containsFrame[protocol.VoiceActivityEnded](frames) {
		t.Fatalf("quiet chunk should trigger VoiceActivityEnded: %#v", frames)
	}
	if !containsFrame[protocol.AudioLevel](frames) {
		t.Fatal("every chunk ack should include an AudioLevel frame")
	}
}

func newLoggedDaemon(t *testing.T, engine model.Engine, buf *bytes.Buffer) *Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	mgr, err := model.NewManager(engine, cfg.Whisper.ModelPath, "en", time.Minute, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	d, err := New(cfg, mgr, slog.New(slog.NewTextHandler(buf, nil)), func() {})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func TestLoadFailureLogCarriesEventTypeAndHint(t *testing.T) {
	var buf bytes.Buffer
	d := newLoggedDaemon(t, &fakeEngine{loadErr: errors.New("missing weights")}, &buf)

	d.Handle(context.Background(), protocol.StartRecording{})

	out := buf.String()
	if !strings.Contains(out, "event_type=model_load_failed") {
		t.Fatalf("load failure log missing event type:\n%s", out)
	}
	if !strings.Contains(out, "error_hint=") {
		t.Fatalf("load failure log missing hint:\n%s", out)
	}
}

func TestClearLogsDiscardedSamples(t *testing.T) {
	var buf bytes.Buffer
	d := newLoggedDaemon(t, &fakeEngine{transcript: "ignored"}, &buf)
	ctx := context.Background()

	started := reply(t, d.Handle(ctx, protocol.StartRecording{})).(protocol.RecordingStarted)
	d.Handle(ctx, protocol.AudioChunk{
		SessionID:  started.SessionID,
		Samples:    make([]float32, 5),
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Now(),
	})

	d.Handle(ctx, protocol.ClearSession{})
	if !strings.Contains(buf.String(), "discarded_samples=5") {
		t.Fatalf("clear log missing buffered sample count:\n%s", buf.String())
	}
}

func TestShutdownInvokesStop(t *testing.T) {
	stopped := false

	cfg := testsupport.NewConfig(t)
	mgr, err := model.NewManager(&fakeEngine{}, cfg.Whisper.ModelPath, "en", time.Minute, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	d, err := New(cfg, mgr, nil, func() { stopped = true })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	frames := d.Handle(context.Background(), protocol.Shutdown{})
	if frames != nil {
		t.Fatalf("shutdown should produce no reply frames, got %d", len(frames))
	}
	if !stopped {
		t.Fatal("stop function not invoked")
	}
}

func containsFrame[T protocol.DaemonMessage](frames []protocol.DaemonMessage) bool {
	for _, frame := range frames {
		if _, ok := frame.(T); ok {
			return true
		}
	}
	return false
}
