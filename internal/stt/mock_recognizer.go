package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

// NewMockRecognizer reports the buffered audio length instead of words.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, final bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if sampleRate <= 0 || channels <= 0 {
		return Result{}, fmt.Errorf("invalid audio format %d Hz x %d", sampleRate, channels)
	}
	seconds := float64(len(pcm)) / float64(2*sampleRate*channels)
	mode := "partial"
	if final {
		mode = "final"
	}
	return Result{Text: fmt.Sprintf("[%s transcript %.2fs]", mode, seconds)}, nil
}
