package orchestrator

import (
	"time"

	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/tts"
)

// Snapshot is a consistent copy of everything a presentation layer shows.
type Snapshot struct {
	Status           string             `json:"status"`
	Error            string             `json:"error,omitempty"`
	Utterance        protocol.Utterance `json:"utterance"`
	Auto             bool               `json:"auto"`
	Transcribing     bool               `json:"transcribing"`
	LastTriggeredKey string             `json:"last_triggered_key,omitempty"`
	Neutral          PipelineState      `json:"neutral"`
	Warm             PipelineState      `json:"warm"`
	Loop             LoopSnapshot       `json:"loop"`
	Profile          profile.Profile    `json:"profile"`
	NeutralSpeed     float64            `json:"neutral_speed"`
	WarmSpeed        float64            `json:"warm_speed"`
	PlaybackRate     float64            `json:"playback_rate"`
	VoiceID          string             `json:"voice_id,omitempty"`
	Voices           []eleven.Voice     `json:"voices,omitempty"`
	VoicesStatus     Phase              `json:"voices_status"`
	AgentText        string             `json:"agent_text,omitempty"`
}

func (c *Console) Snapshot() Snapshot {
	prof := c.deps.Profiles.Current()

	c.mu.Lock()
	defer c.mu.Unlock()
	neutral, warm := c.states[Neutral], c.states[Warm]
	snap := Snapshot{
		Status:           MergeStatus(neutral.Phase, warm.Phase, c.voicesPhase),
		Utterance:        c.utterance,
		Auto:             c.auto,
		Transcribing:     c.transcribing,
		LastTriggeredKey: c.lastTriggeredKey,
		Neutral:          neutral,
		Warm:             warm,
		Loop:             c.loopSnapshotLocked(),
		Profile:          prof,
		NeutralSpeed:     tts.SynthesisSpeed(tts.PresetNeutral, prof),
		WarmSpeed:        tts.SynthesisSpeed(tts.PresetWarm, prof),
		PlaybackRate:     prof.PlaybackRate(),
		VoiceID:          c.voiceID,
		Voices:           append([]eleven.Voice(nil), c.voices...),
		VoicesStatus:     c.voicesPhase,
		AgentText:        c.cfg.AgentText,
	}

	// Most recent error across pipelines and the voice list.
	var at time.Time
	for _, s := range []PipelineState{neutral, warm} {
		if s.Phase == PhaseErrored && s.ErrorAt.After(at) {
			snap.Error, at = s.Error, s.ErrorAt
		}
	}
	if c.voicesPhase == PhaseErrored && c.voicesErrAt.After(at) {
		snap.Error = c.voicesErr
	}
	return snap
}
