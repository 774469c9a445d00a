package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.ModelTimeout() != 5*time.Minute {
		t.Fatalf("unexpected default model timeout: %v", cfg.ModelTimeout())
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected default audio settings: %+v", cfg.Audio)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Whisper.ModelTimeoutSeconds != 300 {
		t.Fatalf("expected default timeout, got %d", cfg.Whisper.ModelTimeoutSeconds)
	}
}

func TestLoadOverridesAndExpands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[whisper]
model_path = "~/models/tiny.bin"
model_timeout_seconds = 60

[audio]
sample_rate = 48000

[logging]
level = "Debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: exists=%v path=%s", exists, resolved)
	}
	if cfg.Whisper.ModelTimeoutSeconds != 60 {
		t.Fatalf("override not applied: %d", cfg.Whisper.ModelTimeoutSeconds)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("override not applied: %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Fatalf("unset key should keep default, got %d", cfg.Audio.Channels)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level should be lowercased, got %q", cfg.Logging.Level)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("home dir: %v", err)
	}
	if cfg.Whisper.ModelPath != filepath.Join(home, "models", "tiny.bin") {
		t.Fatalf("tilde not expanded: %q", cfg.Whisper.ModelPath)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero sample rate": "[audio]\nsample_rate = 0\n",
		"vad above one":    "[whisper]\nvad_threshold = 1.5\n",
		"bad log format":   "[logging]\nformat = \"xml\"\n",
		"zero timeout":     "[whisper]\nmodel_timeout_seconds = 0\n",
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("%s: write config: %v", name, err)
		}
		_, _, _, err := Load(path)
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
}

func TestRuntimePaths(t *testing.T) {
	cfg := Default()
	cfg.Daemon.RuntimeDir = "/run/murmur"
	if cfg.PIDPath() != "/run/murmur/murmurd.pid" {
		t.Fatalf("unexpected pid path: %s", cfg.PIDPath())
	}
	if cfg.LockPath() != "/run/murmur/murmurd.lock" {
		t.Fatalf("unexpected lock path: %s", cfg.LockPath())
	}
	if cfg.LogPath() != "/run/murmur/murmurd.log" {
		t.Fatalf("unexpected log path: %s", cfg.LogPath())
	}
}

func TestCreateSampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("sample config file missing")
	}
	if !strings.HasSuffix(cfg.IPC.SocketPath, "murmur.sock") {
		t.Fatalf("unexpected socket path: %s", cfg.IPC.SocketPath)
	}
}
