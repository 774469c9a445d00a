// Package dictation implements the daemon core: a dispatcher over the
// client message set that drives sessions, audio buffers, and the model
// manager.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"murmur/internal/audio"
	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/model"
	"murmur/internal/protocol"
	"murmur/internal/session"
)

// Daemon owns the dictation state machine. One instance serves every client
// connection; the registry, buffer set, and model manager carry their own
// synchronization.
type Daemon struct {
	cfg      *config.Config
	sessions *session.Registry
	buffers  *audio.Set
	models   *model.Manager
	logger   *slog.Logger
	stop     func()

	startedAt   time.Time
	sensitivity atomic.Uint32
	voiceActive atomic.Bool
}

// New constructs a Daemon. The stop function is invoked exactly once when a
// Shutdown message arrives; it must be safe to call from a connection
// handler goroutine.
func New(cfg *config.Config, models *model.Manager, logger *slog.Logger, stop func()) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("dictation: config is required")
	}
	if models == nil {
		return nil, errors.New("dictation: model manager is required")
	}
	if stop == nil {
		return nil, errors.New("dictation: stop function is required")
	}
	d := &Daemon{
		cfg:       cfg,
		sessions:  session.NewRegistry(),
		buffers:   audio.NewSet(),
		models:    models,
		logger:    logging.WithComponent(logger, "dictation"),
		stop:      stop,
		startedAt: time.Now(),
	}
	d.setSensitivity(cfg.Whisper.VADThreshold)
	return d, nil
}

// Handle dispatches one client message and returns the frames to write
// back, in order. The final frame is always the reply; frames before it are
// notifications (audio levels, voice activity, processing phases). A nil
// slice means no reply at all, which only Shutdown produces.
func (d *Daemon) Handle(ctx context.Context, msg protocol.ClientMessage) []protocol.DaemonMessage {
	switch m := msg.(type) {
	case protocol.StartRecording:
		return d.handleStart(ctx)
	case protocol.AudioChunk:
		return d.handleChunk(m)
	case protocol.StopRecording:
		return d.handleStop(ctx)
	case protocol.GetStatus:
		return []protocol.DaemonMessage{d.status()}
	case protocol.ClearSession:
		return d.handleClear()
	case protocol.SetSensitivity:
		return d.handleSensitivity(m.Value)
	case protocol.Shutdown:
		d.logger.Info("shutdown requested")
		d.stop()
		return nil
	default:
		return []protocol.DaemonMessage{protocol.Error{Message: fmt.Sprintf("unsupported message %T", msg)}}
	}
}

func (d *Daemon) handleStart(ctx context.Context) []protocol.DaemonMessage {
	s := d.sessions.Create()
	d.buffers.Create(s.ID)

	if err := d.models.EnsureLoaded(ctx); err != nil {
		// Unwind so a failed start leaves no session behind.
		d.sessions.Remove(s.ID)
		d.buffers.Remove(s.ID)
		d.logger.Error("model load failed",
			logging.String(logging.FieldEventType, "model_load_failed"),
			logging.String(logging.FieldSessionID, s.ID.String()),
			logging.String(logging.FieldErrorHint, "verify whisper.model_path points to a downloaded model"),
			logging.Error(err))
		return []protocol.DaemonMessage{protocol.Error{Message: fmt.Sprintf("failed to load model: %v", err)}}
	}

	d.logger.Info("recording started",
		logging.String(logging.FieldSessionID, s.ID.String()))
	return []protocol.DaemonMessage{protocol.RecordingStarted{SessionID: s.ID.String()}}
}

func (d *Daemon) handleChunk(chunk protocol.AudioChunk) []protocol.DaemonMessage {
	id, err := uuid.Parse(chunk.SessionID)
	if err != nil {
		return []protocol.DaemonMessage{protocol.Error{Message: fmt.Sprintf("invalid session id %q", chunk.SessionID)}}
	}

	duration, ok := d.buffers.Append(id, chunk.Samples, chunk.SampleRate, chunk.Channels, chunk.Timestamp)
	if !ok {
		return []protocol.DaemonMessage{protocol.Error{Message: "session not found"}}
	}

	level := peakLevel(chunk.Samples)
	frames := []protocol.DaemonMessage{protocol.AudioLevel{Level: level}}
	frames = append(frames, d.voiceTransition(level)...)

	d.logger.Debug("audio chunk buffered",
		logging.String(logging.FieldSessionID, chunk.SessionID),
		logging.Int("samples", len(chunk.Samples)),
		logging.Float64("buffered_seconds", float64(duration)))
	return append(frames, protocol.TranscriptionUpdate{SessionID: chunk.SessionID})
}

// voiceTransition emits a detection or end notification when the chunk's
// level crosses the sensitivity threshold.
func (d *Daemon) voiceTransition(level float32) []protocol.DaemonMessage {
	speaking := level >= d.Sensitivity()
	if speaking && d.voiceActive.CompareAndSwap(false, true) {
		return []protocol.DaemonMessage{protocol.VoiceActivityDetected{}}
	}
	if !speaking && d.voiceActive.CompareAndSwap(true, false) {
		return []protocol.DaemonMessage{protocol.VoiceActivityEnded{}}
	}
	return nil
}

func (d *Daemon) handleStop(ctx context.Context) []protocol.DaemonMessage {
	drained := d.buffers.DrainAll()
	defer d.sessions.Clear()
	d.voiceActive.Store(false)

	if len(drained) == 0 {
		d.logger.Info("recording stopped with no buffered audio")
		return []protocol.DaemonMessage{protocol.RecordingStopped{}}
	}

	frames := []protocol.DaemonMessage{protocol.ProcessingStarted{}}
	results := make([]protocol.TranscriptionSession, 0, len(drained))
	for _, buf := range drained {
		results = append(results, d.finalize(ctx, buf))
	}
	frames = append(frames, protocol.ProcessingComplete{})

	if len(results) == 1 {
		return append(frames, results[0])
	}
	for _, result := range results {
		d.logger.Info("session finalized",
			logging.String(logging.FieldSessionID, result.ID),
			logging.String("status", result.Status.State))
	}
	return append(frames, protocol.RecordingStopped{})
}

// finalize transcribes one drained buffer and folds the outcome into the
// session's wire form.
func (d *Daemon) finalize(ctx context.Context, buf audio.Drained) protocol.TranscriptionSession {
	d.sessions.Update(buf.SessionID, func(s *session.Session) {
		s.Status = session.StatusProcessing
	})

	text, err := d.transcribeBuffer(ctx, buf)

	var status protocol.SessionStatus
	if err != nil {
		status = protocol.Failed(err.Error())
		d.sessions.Update(buf.SessionID, func(s *session.Session) {
			s.Status = session.StatusFailed
			s.FailureReason = err.Error()
		})
		d.logger.Error("transcription failed",
			logging.String(logging.FieldEventType, "transcription_failed"),
			logging.String(logging.FieldSessionID, buf.SessionID.String()),
			logging.String(logging.FieldErrorHint, "verify the whisper binary is installed and on PATH"),
			logging.Error(err))
	} else {
		status = protocol.SessionStatus{State: protocol.StatusCompleted}
		d.sessions.Update(buf.SessionID, func(s *session.Session) {
			s.Status = session.StatusCompleted
			s.Text = text
		})
		d.logger.Info("transcription complete",
			logging.String(logging.FieldSessionID, buf.SessionID.String()),
			logging.Float64("audio_seconds", float64(buf.DurationSeconds)))
	}

	snapshot, _ := d.sessions.Get(buf.SessionID)
	return protocol.TranscriptionSession{
		ID:         buf.SessionID.String(),
		Status:     status,
		Text:       text,
		Confidence: snapshot.Confidence,
		CreatedAt:  snapshot.CreatedAt,
	}
}

func (d *Daemon) transcribeBuffer(ctx context.Context, buf audio.Drained) (string, error) {
	if err := d.models.EnsureLoaded(ctx); err != nil {
		return "", err
	}
	return d.models.Transcribe(ctx, buf.Samples, int(buf.SampleRate), int(buf.Channels))
}

func (d *Daemon) handleClear() []protocol.DaemonMessage {
	discarded := d.buffers.TotalSamples()
	removed := d.sessions.Clear()
	d.buffers.Clear()
	d.voiceActive.Store(false)
	d.logger.Info("sessions cleared",
		logging.Int("count", len(removed)),
		logging.Int("discarded_samples", discarded))
	return []protocol.DaemonMessage{protocol.SessionCleared{}}
}

func (d *Daemon) handleSensitivity(value float32) []protocol.DaemonMessage {
	clamped := value
	if clamped < 0 {
		clamped = 0
	} else if clamped > 1 {
		clamped = 1
	}
	d.setSensitivity(clamped)
	d.logger.Info("sensitivity updated", logging.Float64("value", float64(clamped)))
	return []protocol.DaemonMessage{d.status()}
}

func (d *Daemon) status() protocol.DaemonStatus {
	ids := d.sessions.IDs()
	active := make([]string, 0, len(ids))
	for _, id := range ids {
		active = append(active, id.String())
	}
	sort.Strings(active)

	return protocol.DaemonStatus{
		ModelLoaded:    d.models.IsLoaded(),
		ActiveSessions: active,
		Uptime:         time.Since(d.startedAt),
		AudioDevice:    d.cfg.Audio.Device,
		BufferSize:     d.cfg.Audio.BufferSize,
		VADSensitivity: d.Sensitivity(),
	}
}

// Sensitivity returns the current voice-detection threshold.
func (d *Daemon) Sensitivity() float32 {
	return math.Float32frombits(d.sensitivity.Load())
}

func (d *Daemon) setSensitivity(value float32) {
	d.sensitivity.Store(math.Float32bits(value))
}

// ActiveSessions returns the number of registered sessions.
func (d *Daemon) ActiveSessions() int {
	return d.sessions.Len()
}

func peakLevel(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak > 1 {
		peak = 1
	}
	return peak
}
