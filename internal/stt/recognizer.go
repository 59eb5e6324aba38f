// Package stt turns PCM audio frames from the bus into live transcripts that
// drive the console's utterance.
package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/toneshift/internal/config"
)

// Result is one recognizer answer.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer transcribes a whole buffered utterance. final is false for
// interim passes over a still-growing buffer.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, final bool) (Result, error)
}

// NewRecognizer builds the recognizer selected by cfg.Mode.
func NewRecognizer(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
