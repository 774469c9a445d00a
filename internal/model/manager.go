package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"murmur/internal/logging"
)

// Manager owns the loaded model handle. Loading, transcription, and
// unloading are serialized through a weighted semaphore so blocking engine
// work never overlaps; cheap state reads go through a separate mutex.
type Manager struct {
	engine    Engine
	modelPath string
	language  string
	timeout   time.Duration
	logger    *slog.Logger

	sem *semaphore.Weighted

	mu       sync.RWMutex
	handle   Handle
	lastUsed time.Time
}

// NewManager constructs a Manager. The model is not loaded until the first
// EnsureLoaded call.
func NewManager(engine Engine, modelPath, language string, timeout time.Duration, logger *slog.Logger) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("model: engine is required")
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model: model path is required")
	}
	if timeout <= 0 {
		return nil, errors.New("model: idle timeout must be positive")
	}
	return &Manager{
		engine:    engine,
		modelPath: modelPath,
		language:  language,
		timeout:   timeout,
		logger:    logging.WithComponent(logger, "model"),
		sem:       semaphore.NewWeighted(1),
	}, nil
}

// EnsureLoaded loads the model if it is not already resident. Concurrent
// callers serialize on the semaphore, so at most one load runs and the
// rest observe the resident handle.
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	if m.currentHandle() != nil {
		return nil
	}

	if _, err := os.Stat(m.modelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, m.modelPath)
		}
		return fmt.Errorf("stat model: %w", err)
	}

	started := time.Now()
	handle, err := m.engine.Load(ctx, m.modelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	m.mu.Lock()
	m.handle = handle
	m.lastUsed = time.Now()
	m.mu.Unlock()

	m.logger.Info("model loaded",
		logging.String("path", m.modelPath),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}

// Transcribe runs the engine over the given samples. It requires a prior
// successful EnsureLoaded and returns the NoSpeech sentinel when the engine
// produces an empty transcript.
func (m *Manager) Transcribe(ctx context.Context, samples []float32, sampleRate, channels int) (string, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.sem.Release(1)

	handle := m.currentHandle()
	if handle == nil {
		return "", ErrNotLoaded
	}

	started := time.Now()
	text, err := m.engine.Transcribe(ctx, handle, samples, sampleRate, channels, m.language)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	m.mu.Lock()
	m.lastUsed = time.Now()
	m.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		text = NoSpeech
	}
	m.logger.Debug("transcription finished",
		logging.Int("samples", len(samples)),
		logging.Duration("elapsed", time.Since(started)))
	return text, nil
}

// UnloadIfIdle releases the model when it has been unused for at least the
// idle timeout. It never blocks: if engine work is in flight the check is
// skipped until the next tick.
func (m *Manager) UnloadIfIdle() bool {
	if !m.sem.TryAcquire(1) {
		return false
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil || time.Since(m.lastUsed) < m.timeout {
		return false
	}

	if err := m.handle.Close(); err != nil {
		m.logger.Warn("model close failed", logging.Error(err))
	}
	m.handle = nil
	m.logger.Info("model unloaded after idle timeout",
		logging.Duration("timeout", m.timeout))
	return true
}

// Unload releases the model immediately, waiting for in-flight work.
func (m *Manager) Unload(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	err := m.handle.Close()
	m.handle = nil
	return err
}

// IsLoaded reports whether a model handle is currently resident.
func (m *Manager) IsLoaded() bool {
	return m.currentHandle() != nil
}

func (m *Manager) currentHandle() Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}
