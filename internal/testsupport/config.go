// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"murmur/internal/config"
)

// NewConfig returns a validated configuration rooted in per-test temporary
// directories, with a placeholder model file already on disk.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Whisper.ModelPath = filepath.Join(dir, "ggml-test.bin")
	cfg.IPC.SocketPath = filepath.Join(dir, "murmur.sock")
	cfg.Daemon.RuntimeDir = dir

	if err := os.WriteFile(cfg.Whisper.ModelPath, []byte("model"), 0o644); err != nil {
		t.Fatalf("write placeholder model: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}
