// Package profile holds the listening profile: a pace/pitch pair applied to
// synthesized speech both at synthesis time and at playback time.
package profile

import "math"

const (
	Min = 0.85
	Max = 1.15

	// DefaultKey is the storage key the profile has always been saved under.
	DefaultKey = "tonesift.listenProfile.v1"
)

// Profile is the pace/pitch pair. Values outside [Min, Max] are never used
// uncorrected.
type Profile struct {
	Pace  float64 `json:"pace"`
	Pitch float64 `json:"pitch"`
}

func Default() Profile { return Profile{Pace: 1, Pitch: 1} }

// Clamp returns p with both fields forced into [Min, Max]. NaN maps to 1.
func (p Profile) Clamp() Profile {
	return Profile{Pace: clampValue(p.Pace), Pitch: clampValue(p.Pitch)}
}

// PlaybackRate is the local rate applied to loaded audio.
func (p Profile) PlaybackRate() float64 {
	return clampValue(p.Pitch)
}

func clampValue(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Min(Max, math.Max(Min, v))
}
