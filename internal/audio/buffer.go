// Package audio accumulates raw microphone samples for recording sessions.
package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Buffer is an append-only accumulator of 32-bit float samples for one
// session. Sample rate and channel count always reflect the most recently
// appended chunk; chunks within one session are assumed consistent. Buffer
// is not internally synchronized — the owning Set serializes access.
type Buffer struct {
	samples    []float32
	sampleRate uint32
	channels   uint16
	lastChunk  time.Time
}

// NewBuffer returns an empty buffer with the dictation defaults of 16 kHz
// mono, matching the capture side before the first chunk arrives.
func NewBuffer() *Buffer {
	return &Buffer{sampleRate: 16000, channels: 1, lastChunk: time.Now()}
}

// Append extends the buffer and adopts the chunk's metadata (last writer
// wins, no consistency check against earlier chunks).
func (b *Buffer) Append(samples []float32, sampleRate uint32, channels uint16, timestamp time.Time) {
	b.samples = append(b.samples, samples...)
	b.sampleRate = sampleRate
	b.channels = channels
	b.lastChunk = timestamp
}

// DurationSeconds returns the buffered audio length in seconds, zero when
// either the sample rate or channel count is zero.
func (b *Buffer) DurationSeconds() float32 {
	if b.sampleRate == 0 || b.channels == 0 {
		return 0
	}
	return float32(len(b.samples)) / float32(b.sampleRate*uint32(b.channels))
}

// IdleFor reports whether wall-clock time since the last appended chunk
// exceeds the given threshold.
func (b *Buffer) IdleFor(timeout time.Duration) bool {
	return time.Since(b.lastChunk) > timeout
}

// Drain returns the accumulated samples and empties the buffer.
func (b *Buffer) Drain() []float32 {
	samples := b.samples
	b.samples = nil
	return samples
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return len(b.samples) }

// SampleRate returns the rate adopted from the most recent chunk.
func (b *Buffer) SampleRate() uint32 { return b.sampleRate }

// Channels returns the channel count adopted from the most recent chunk.
func (b *Buffer) Channels() uint16 { return b.channels }

// Drained is the final audio taken from one session's buffer.
type Drained struct {
	SessionID       uuid.UUID
	Samples         []float32
	SampleRate      uint32
	Channels        uint16
	DurationSeconds float32
}

// Set owns the per-session buffers, keyed by session id. A buffer is created
// with its session and destroyed with it; draining happens exactly once,
// when recording is finalized.
type Set struct {
	mu      sync.RWMutex
	buffers map[uuid.UUID]*Buffer
}

// NewSet returns an empty buffer set.
func NewSet() *Set {
	return &Set{buffers: make(map[uuid.UUID]*Buffer)}
}

// Create attaches a fresh buffer to the session id.
func (s *Set) Create(id uuid.UUID) {
	s.mu.Lock()
	s.buffers[id] = NewBuffer()
	s.mu.Unlock()
}

// Append extends the session's buffer and returns its new duration. The
// second return is false when no buffer exists for the session.
func (s *Set) Append(id uuid.UUID, samples []float32, sampleRate uint32, channels uint16, timestamp time.Time) (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[id]
	if !ok {
		return 0, false
	}
	b.Append(samples, sampleRate, channels, timestamp)
	return b.DurationSeconds(), true
}

// Remove destroys the session's buffer, if present.
func (s *Set) Remove(id uuid.UUID) {
	s.mu.Lock()
	delete(s.buffers, id)
	s.mu.Unlock()
}

// DrainAll empties and destroys every buffer, returning the non-empty ones.
func (s *Set) DrainAll() []Drained {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := make([]Drained, 0, len(s.buffers))
	for id, b := range s.buffers {
		if b.Len() == 0 {
			continue
		}
		drained = append(drained, Drained{
			SessionID:       id,
			SampleRate:      b.SampleRate(),
			Channels:        b.Channels(),
			DurationSeconds: b.DurationSeconds(),
			Samples:         b.Drain(),
		})
	}
	s.buffers = make(map[uuid.UUID]*Buffer)
	return drained
}

// Clear destroys every buffer without draining.
func (s *Set) Clear() {
	s.mu.Lock()
	s.buffers = make(map[uuid.UUID]*Buffer)
	s.mu.Unlock()
}

// TotalSamples returns the sample count summed across all buffers.
func (s *Set) TotalSamples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, b := range s.buffers {
		total += b.Len()
	}
	return total
}
