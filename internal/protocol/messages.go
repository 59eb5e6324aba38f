package protocol

import (
	"strings"
	"time"
)

// Utterance is one customer statement to be neutralized. It is replaced
// wholesale by whichever ingestion path produced it.
type Utterance struct {
	Text      string `json:"text"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"ts,omitempty"`
}

// Key is the deduplication identity of an utterance. Two utterances with the
// same text but a different id or timestamp have different keys.
func (u Utterance) Key() string {
	return u.ID + "::" + u.Timestamp + "::" + strings.TrimSpace(u.Text)
}

// AudioFrame represents PCM audio data streamed from capture clients.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents speech-to-text output broadcast on the bus, either
// from the local recognizer or relayed from a realtime transcription session.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// PipelineEvent is published whenever a console pipeline changes state.
type PipelineEvent struct {
	Type            string    `json:"type"`
	Pipeline        string    `json:"pipeline"`
	Generation      uint64    `json:"generation"`
	RunID           string    `json:"run_id,omitempty"`
	Utterance       string    `json:"utterance,omitempty"`
	TransformedText string    `json:"transformed_text,omitempty"`
	Emotion         string    `json:"emotion,omitempty"`
	Confidence      string    `json:"confidence,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectUtterance         = "customer.utterance"
	SubjectPipelinePrefix    = "toneshift.pipeline"
)
