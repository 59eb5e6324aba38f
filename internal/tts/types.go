package tts

import (
	"context"
	"fmt"
	"strings"
)

// Preset is a logical tone mapped to concrete voice settings.
type Preset string

const (
	PresetNeutral Preset = "neutral"
	PresetWarm    Preset = "warm"
)

func ParsePreset(s string) (Preset, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case PresetNeutral:
		return PresetNeutral, nil
	case PresetWarm:
		return PresetWarm, nil
	}
	return "", fmt.Errorf("unknown preset %q", s)
}

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text    string
	VoiceID string
	Preset  Preset
	// Speed is the already clamped value from SynthesisSpeed.
	Speed float64
}

// Audio is an encoded, playable payload.
type Audio struct {
	Data        []byte
	ContentType string
	// Format is the provider output format, e.g. mp3_44100_128 or wav_22050.
	Format string
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (Audio, error)
}
