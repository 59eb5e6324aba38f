// Package source provides the utterance generators the continuous loop and
// manual pulls draw from.
package source

import (
	"context"
	"errors"

	"github.com/loqalabs/toneshift/internal/protocol"
)

// ErrNoUtterance is returned when a source answered without usable text.
var ErrNoUtterance = errors.New("source returned no utterance")

// Source yields the next customer utterance. Next must return promptly
// with ctx.Err() once ctx is done.
type Source interface {
	Next(ctx context.Context) (protocol.Utterance, error)
}
