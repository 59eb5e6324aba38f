package tts

import (
	"math"

	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/profile"
)

const (
	MinSpeed = 0.7
	MaxSpeed = 1.2
)

type presetSpec struct {
	stability       float64
	similarityBoost float64
	style           float64
	speakerBoost    bool
	baseSpeed       float64
}

var presets = map[Preset]presetSpec{
	PresetNeutral: {stability: 0.88, similarityBoost: 0.6, style: 0.05, speakerBoost: true, baseSpeed: 1.0},
	PresetWarm:    {stability: 0.38, similarityBoost: 0.88, style: 0.55, speakerBoost: true, baseSpeed: 0.96},
}

// BaseSpeed returns the preset's speed before the listening profile is
// applied. Unknown presets use the neutral base.
func BaseSpeed(p Preset) float64 {
	if spec, ok := presets[p]; ok {
		return spec.baseSpeed
	}
	return presets[PresetNeutral].baseSpeed
}

// SynthesisSpeed folds pace and pitch into the single speed the provider
// accepts: base * pace / pitch, clamped to [MinSpeed, MaxSpeed].
func SynthesisSpeed(p Preset, prof profile.Profile) float64 {
	prof = prof.Clamp()
	speed := BaseSpeed(p) * (prof.Pace / prof.Pitch)
	return math.Min(MaxSpeed, math.Max(MinSpeed, speed))
}

// VoiceSettings returns the provider settings for p with speed applied. A
// zero speed keeps the preset base.
func VoiceSettings(p Preset, speed float64) eleven.VoiceSettings {
	spec, ok := presets[p]
	if !ok {
		spec = presets[PresetNeutral]
	}
	if speed == 0 {
		speed = spec.baseSpeed
	}
	style := spec.style
	boost := spec.speakerBoost
	return eleven.VoiceSettings{
		Stability:       spec.stability,
		SimilarityBoost: spec.similarityBoost,
		Style:           &style,
		UseSpeakerBoost: &boost,
		Speed:           &speed,
	}
}
