// Package daemonrun hosts the murmurd runtime loop: single-instance
// locking, logging setup, the IPC server, and the idle-unload timer.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"murmur/internal/config"
	"murmur/internal/dictation"
	"murmur/internal/ipc"
	"murmur/internal/logging"
	"murmur/internal/model"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// ErrAlreadyRunning indicates another daemon instance holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// Run starts the murmur daemon runtime loop and blocks until a signal or a
// Shutdown message stops it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", cfg.LogPath()},
		ErrorOutputPaths: []string{"stderr", cfg.LogPath()},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logging.WithComponent(logger, "daemon")

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer lock.Unlock()

	if err := WritePIDFile(cfg.PIDPath()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath())

	engine := model.NewExecEngine(cfg.Whisper.Binary)
	models, err := model.NewManager(engine, cfg.Whisper.ModelPath, cfg.Whisper.Language, cfg.ModelTimeout(), logger)
	if err != nil {
		return fmt.Errorf("create model manager: %w", err)
	}

	d, err := dictation.New(cfg, models, logger, cancel)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	server, err := ipc.NewServer(signalCtx, cfg.IPC.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()
	go runIdleUnload(signalCtx, models, cfg.UnloadCheckInterval())

	logger.Info("murmur daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("socket", cfg.IPC.SocketPath),
		logging.String("model", cfg.Whisper.ModelPath),
		logging.Duration("model_timeout", cfg.ModelTimeout()))

	var runErr error
	select {
	case <-signalCtx.Done():
	case runErr = <-serveErr:
	}

	logger.Info("murmur daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	if closeErr := server.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	unloadCtx, unloadCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer unloadCancel()
	if err := models.Unload(unloadCtx); err != nil {
		logger.Warn("model unload on shutdown failed", logging.Error(err))
	}
	return runErr
}

// runIdleUnload polls the model manager until the context ends.
func runIdleUnload(ctx context.Context, models *model.Manager, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			models.UnloadIfIdle()
		}
	}
}

// WritePIDFile records the current process id at path.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPIDFile parses the process id recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %q: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %q holds invalid pid %d", path, pid)
	}
	return pid, nil
}
