// Package model manages the speech-to-text engine lifecycle: lazy loading,
// exclusive transcription, and idle unloading.
package model

import (
	"context"
	"errors"
)

// NoSpeech is the transcript returned when the engine produces no text for
// an audio buffer.
const NoSpeech = "[No speech detected]"

var (
	// ErrNotLoaded is returned when transcription is requested before a
	// successful load.
	ErrNotLoaded = errors.New("model not loaded")

	// ErrModelNotFound is returned when the configured model file does not
	// exist on disk.
	ErrModelNotFound = errors.New("model file not found")
)

// Handle represents a loaded model instance.
type Handle interface {
	Close() error
}

// Engine abstracts a speech-to-text backend.
type Engine interface {
	// Load prepares the model at path for transcription.
	Load(ctx context.Context, path string) (Handle, error)

	// Transcribe converts mono or interleaved float32 PCM into text. An
	// empty transcript is a valid result and means no speech was detected.
	Transcribe(ctx context.Context, h Handle, samples []float32, sampleRate int, channels int, language string) (string, error)
}
