package tts

import (
	"context"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// perRune is how much silence the mock produces per character of text.
const perRune = 40 * time.Millisecond

type mockSynth struct {
	sampleRate int
}

// NewMockSynth returns silent 16-bit mono WAV audio whose length follows the
// text length and requested speed.
func NewMockSynth(sampleRate int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	select {
	case <-ctx.Done():
		return Audio{}, ctx.Err()
	case <-time.After(30 * time.Millisecond):
	}
	speed := req.Speed
	if speed <= 0 {
		speed = BaseSpeed(req.Preset)
	}
	length := time.Duration(float64(utf8.RuneCountInString(req.Text)) * float64(perRune) / speed)
	if length < 200*time.Millisecond {
		length = 200 * time.Millisecond
	}
	data, err := silentWAV(m.sampleRate, length)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: data, ContentType: "audio/wav", Format: fmt.Sprintf("wav_%d", m.sampleRate)}, nil
}

func silentWAV(sampleRate int, length time.Duration) ([]byte, error) {
	file, err := os.CreateTemp("", "toneshift_tts_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	frames := int(length.Seconds() * float64(sampleRate))
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return os.ReadFile(file.Name())
}
