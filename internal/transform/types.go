package transform

import (
	"context"
	"errors"
)

// ErrEmptyTransform is returned when the gateway answered without usable
// transformed text.
var ErrEmptyTransform = errors.New("empty transformed text")

// Request describes one customer message to neutralize.
type Request struct {
	Message         string `json:"message"`
	OriginalMessage string `json:"original_message"`
}

// Result is the canonical transform output regardless of which response
// shape the gateway used.
type Result struct {
	TransformedText string   `json:"transformed_text"`
	OriginalText    string   `json:"original_text,omitempty"`
	Emotion         string   `json:"emotion,omitempty"`
	ConfidenceRaw   string   `json:"confidence_raw,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

// Transformer is a pluggable text transformation backend.
type Transformer interface {
	Transform(ctx context.Context, req Request) (Result, error)
}
