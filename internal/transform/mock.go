package transform

import (
	"context"
	"strings"
	"time"
)

type mockTransformer struct{}

func NewMockTransformer() Transformer { return &mockTransformer{} }

func (m *mockTransformer) Transform(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	message := PickMessage(req)
	if message == "" {
		return Result{}, ErrEmptyTransform
	}
	confidence := 50.0
	return Result{
		TransformedText: "[neutral] " + strings.Trim(message, "!?~ "),
		OriginalText:    message,
		Emotion:         "anger",
		ConfidenceRaw:   "50%",
		Confidence:      &confidence,
	}, nil
}
