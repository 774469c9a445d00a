package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Whisper contains speech model settings.
type Whisper struct {
	ModelPath           string  `toml:"model_path"`
	Binary              string  `toml:"binary"`
	ModelTimeoutSeconds int     `toml:"model_timeout_seconds"`
	Language            string  `toml:"language"`
	VADThreshold        float32 `toml:"vad_threshold"`
}

// Audio contains microphone capture settings used by the CLI record command
// and reported in daemon status.
type Audio struct {
	Device      string `toml:"device"`
	InputFormat string `toml:"input_format"`
	SampleRate  int    `toml:"sample_rate"`
	Channels    int    `toml:"channels"`
	BufferSize  int    `toml:"buffer_size"`
}

// IPC contains control-socket settings.
type IPC struct {
	SocketPath         string `toml:"socket_path"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
}

// Daemon contains runtime directory and background-timer settings.
type Daemon struct {
	RuntimeDir                 string `toml:"runtime_dir"`
	UnloadCheckIntervalSeconds int    `toml:"unload_check_interval_seconds"`
}

// Logging contains log output settings.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for murmur.
type Config struct {
	Whisper Whisper `toml:"whisper"`
	Audio   Audio   `toml:"audio"`
	IPC     IPC     `toml:"ipc"`
	Daemon  Daemon  `toml:"daemon"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/murmur/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a file existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("murmur.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Whisper.ModelPath,
		&c.IPC.SocketPath,
		&c.Daemon.RuntimeDir,
	} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Whisper.Language = strings.TrimSpace(c.Whisper.Language)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates the runtime directory the daemon writes pid,
// lock, and log files into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Daemon.RuntimeDir, filepath.Dir(c.IPC.SocketPath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ModelTimeout returns the idle duration after which the model is unloaded.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Whisper.ModelTimeoutSeconds) * time.Second
}

// UnloadCheckInterval returns the idle-unload polling period.
func (c *Config) UnloadCheckInterval() time.Duration {
	return time.Duration(c.Daemon.UnloadCheckIntervalSeconds) * time.Second
}

// DialTimeout returns the client connect timeout for the control socket.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.IPC.DialTimeoutSeconds) * time.Second
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, "murmurd.log")
}

// PIDPath returns the daemon pid file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, "murmurd.pid")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Daemon.RuntimeDir, "murmurd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
