package model

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// commandRunner executes a command and returns its combined stdout. Split
// out so tests can substitute a fake binary invocation.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecEngine drives a whisper.cpp command-line binary. Audio is handed over
// as a temporary 16-bit WAV file and the transcript is read from stdout.
type ExecEngine struct {
	binary string
	run    commandRunner
}

// NewExecEngine constructs an engine around the given whisper.cpp binary
// name or path.
func NewExecEngine(binary string) *ExecEngine {
	return &ExecEngine{
		binary: binary,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return nil, fmt.Errorf("%s: %w (%s)", name, err, strings.TrimSpace(stderr.String()))
			}
			return stdout.Bytes(), nil
		},
	}
}

type execHandle struct {
	modelPath string
}

func (execHandle) Close() error { return nil }

// Load verifies the binary is resolvable and records the model path. The
// subprocess model keeps no resident state, so loading is a cheap check and
// the real cost is paid per transcription.
func (e *ExecEngine) Load(ctx context.Context, path string) (Handle, error) {
	if _, err := exec.LookPath(e.binary); err != nil {
		return nil, fmt.Errorf("locate %s: %w", e.binary, err)
	}
	return execHandle{modelPath: path}, nil
}

func (e *ExecEngine) Transcribe(ctx context.Context, h Handle, samples []float32, sampleRate int, channels int, language string) (string, error) {
	handle, ok := h.(execHandle)
	if !ok {
		return "", fmt.Errorf("unexpected handle type %T", h)
	}
	if len(samples) == 0 {
		return "", nil
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	wavPath, err := writeTempWAV(samples, sampleRate, channels)
	if err != nil {
		return "", err
	}
	defer os.Remove(wavPath)

	args := []string{
		"-m", handle.modelPath,
		"-f", wavPath,
		"-np", // suppress progress and system info
		"-nt", // plain text without timestamps
	}
	if language != "" {
		args = append(args, "-l", language)
	}

	output, err := e.run(ctx, e.binary, args...)
	if err != nil {
		return "", err
	}
	return collapseTranscript(string(output)), nil
}

// collapseTranscript joins the per-segment lines whisper-cli prints into a
// single spaced transcript.
func collapseTranscript(raw string) string {
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func writeTempWAV(samples []float32, sampleRate, channels int) (string, error) {
	file, err := os.CreateTemp("", "murmur-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	path := file.Name()
	if _, err := file.Write(encodeWAV(samples, sampleRate, channels)); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("write temp wav: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp wav: %w", err)
	}
	return filepath.Clean(path), nil
}

// encodeWAV packs float32 PCM into a 16-bit little-endian RIFF/WAVE blob.
// Samples outside [-1, 1] are clamped.
func encodeWAV(samples []float32, sampleRate, channels int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))

	for _, sample := range samples {
		clamped := float64(sample)
		if clamped > 1 {
			clamped = 1
		} else if clamped < -1 {
			clamped = -1
		}
		binary.Write(buf, binary.LittleEndian, int16(math.Round(clamped*32767)))
	}
	return buf.Bytes()
}
