package orchestrator

import (
	"time"

	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/transform"
)

// Phase is where a pipeline is in its request lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseCommitted Phase = "committed"
	PhaseErrored   Phase = "error"
)

// PipelineState is the visible record of one pipeline. Transitions are the
// value methods below; none of them touch anything but the record.
type PipelineState struct {
	Phase         Phase              `json:"phase"`
	Generation    uint64             `json:"generation"`
	Utterance     protocol.Utterance `json:"utterance"`
	Text          string             `json:"text,omitempty"`
	Emotion       string             `json:"emotion,omitempty"`
	ConfidenceRaw string             `json:"confidence_raw,omitempty"`
	Confidence    *float64           `json:"confidence,omitempty"`
	ClipID        string             `json:"clip_id,omitempty"`
	Error         string             `json:"error,omitempty"`
	ErrorAt       time.Time          `json:"error_at,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// begin enters Loading and clears the previous error.
func (s PipelineState) begin(gen uint64, u protocol.Utterance, now time.Time) PipelineState {
	s.Phase = PhaseLoading
	s.Generation = gen
	s.Utterance = u
	s.ClipID = ""
	s.Error = ""
	s.ErrorAt = time.Time{}
	s.UpdatedAt = now
	return s
}

func (s PipelineState) commit(res transform.Result, clipID string, now time.Time) PipelineState {
	s.Phase = PhaseCommitted
	s.Text = res.TransformedText
	s.Emotion = res.Emotion
	s.ConfidenceRaw = res.ConfidenceRaw
	s.Confidence = res.Confidence
	s.ClipID = clipID
	s.UpdatedAt = now
	return s
}

func (s PipelineState) fail(msg string, now time.Time) PipelineState {
	s.Phase = PhaseErrored
	s.Error = msg
	s.ErrorAt = now
	s.UpdatedAt = now
	return s
}

// cleared drops the result metadata and audio reference.
func (s PipelineState) cleared(now time.Time) PipelineState {
	return PipelineState{Phase: PhaseIdle, Generation: s.Generation, UpdatedAt: now}
}

// stopped is the record after an explicit cancellation: in-flight work is
// gone and audio is released, a committed text stays visible.
func (s PipelineState) stopped(now time.Time) PipelineState {
	if s.Phase == PhaseLoading {
		s.Phase = PhaseIdle
	}
	s.ClipID = ""
	s.UpdatedAt = now
	return s
}

// Composite status values.
const (
	StatusIdle    = "idle"
	StatusLoading = "loading"
	StatusError   = "error"
	StatusOK      = "ok"
)

// MergeStatus folds per-pipeline phases into one status: loading wins over
// error, error over ok, ok over idle.
func MergeStatus(phases ...Phase) string {
	var loading, errored, ok bool
	for _, p := range phases {
		switch p {
		case PhaseLoading:
			loading = true
		case PhaseErrored:
			errored = true
		case PhaseCommitted:
			ok = true
		}
	}
	switch {
	case loading:
		return StatusLoading
	case errored:
		return StatusError
	case ok:
		return StatusOK
	default:
		return StatusIdle
	}
}
