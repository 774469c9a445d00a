package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a configuration problem with remediation help.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks that the configuration is internally consistent. It does
// not require the model file to exist; that is checked lazily on first load
// so the daemon can start before a model has been downloaded.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Whisper.ModelPath) == "" {
		return &ValidationError{Field: "whisper.model_path", Message: "must not be empty"}
	}
	if strings.TrimSpace(c.Whisper.Binary) == "" {
		return &ValidationError{Field: "whisper.binary", Message: "must not be empty"}
	}
	if c.Whisper.ModelTimeoutSeconds <= 0 {
		return &ValidationError{Field: "whisper.model_timeout_seconds", Message: "must be positive"}
	}
	if c.Whisper.VADThreshold < 0 || c.Whisper.VADThreshold > 1 {
		return &ValidationError{Field: "whisper.vad_threshold", Message: "must be between 0.0 and 1.0"}
	}
	if c.Audio.SampleRate <= 0 {
		return &ValidationError{Field: "audio.sample_rate", Message: "must be positive"}
	}
	if c.Audio.Channels <= 0 {
		return &ValidationError{Field: "audio.channels", Message: "must be positive"}
	}
	if c.Audio.BufferSize <= 0 {
		return &ValidationError{Field: "audio.buffer_size", Message: "must be positive"}
	}
	if strings.TrimSpace(c.IPC.SocketPath) == "" {
		return &ValidationError{Field: "ipc.socket_path", Message: "must not be empty"}
	}
	if c.IPC.DialTimeoutSeconds <= 0 {
		return &ValidationError{Field: "ipc.dial_timeout_seconds", Message: "must be positive"}
	}
	if strings.TrimSpace(c.Daemon.RuntimeDir) == "" {
		return &ValidationError{Field: "daemon.runtime_dir", Message: "must not be empty"}
	}
	if c.Daemon.UnloadCheckIntervalSeconds <= 0 {
		return &ValidationError{Field: "daemon.unload_check_interval_seconds", Message: "must be positive"}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return &ValidationError{Field: "logging.format", Message: `must be "console" or "json"`}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: `must be "debug", "info", "warn", or "error"`}
	}
	return nil
}
