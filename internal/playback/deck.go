package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/loqalabs/toneshift/internal/profile"
)

var (
	// ErrStopped is returned by Play when Stop or Eject interrupted it.
	ErrStopped  = errors.New("playback stopped")
	ErrNoClip   = errors.New("no clip loaded")
	ErrReleased = errors.New("clip already released")
)

// Deck is the single audio output of one pipeline. Loading a clip stops and
// releases the previous one.
type Deck struct {
	name     string
	renderer Renderer
	logger   *slog.Logger

	mu      sync.Mutex
	clip    *Clip
	rate    float64
	seq     uint64
	cancel  context.CancelCauseFunc
	playing bool
}

func NewDeck(name string, renderer Renderer, rate float64, logger *slog.Logger) *Deck {
	return &Deck{
		name:     name,
		renderer: renderer,
		rate:     clampRate(rate),
		logger:   logger.With(slog.String("component", "deck"), slog.String("deck", name)),
	}
}

func (d *Deck) Name() string { return d.name }

// Load replaces the current clip.
func (d *Deck) Load(clip *Clip) {
	d.mu.Lock()
	prev := d.clip
	d.stopLocked()
	d.clip = clip
	d.mu.Unlock()
	if prev != nil && prev != clip {
		prev.Release()
	}
}

// Play renders the loaded clip and blocks until it ends, is stopped, or ctx
// is done. A natural end returns nil.
func (d *Deck) Play(ctx context.Context) error {
	d.mu.Lock()
	clip := d.clip
	if clip == nil {
		d.mu.Unlock()
		return ErrNoClip
	}
	if clip.Released() {
		d.mu.Unlock()
		return ErrReleased
	}
	d.stopLocked()
	playCtx, cancel := context.WithCancelCause(ctx)
	d.seq++
	seq := d.seq
	d.cancel = cancel
	d.playing = true
	d.mu.Unlock()

	d.logger.Debug("playback started", slog.String("clip", clip.ID), slog.Float64("rate", d.Rate()))
	err := d.renderer.Render(playCtx, clip, d.Rate)

	d.mu.Lock()
	if d.seq == seq {
		d.playing = false
		d.cancel = nil
	}
	d.mu.Unlock()
	cancel(nil)

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(context.Cause(playCtx), ErrStopped):
		return ErrStopped
	default:
		return err
	}
}

// Stop interrupts playback and keeps the clip loaded.
func (d *Deck) Stop() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

// Eject stops playback and releases the loaded clip.
func (d *Deck) Eject() {
	d.mu.Lock()
	clip := d.clip
	d.stopLocked()
	d.clip = nil
	d.mu.Unlock()
	if clip != nil {
		clip.Release()
	}
}

func (d *Deck) stopLocked() {
	if d.cancel != nil {
		d.cancel(ErrStopped)
		d.cancel = nil
	}
	d.playing = false
}

// SetRate changes the playback rate, including for audio already playing.
func (d *Deck) SetRate(rate float64) {
	d.mu.Lock()
	d.rate = clampRate(rate)
	d.mu.Unlock()
}

func (d *Deck) Rate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

// Clip returns the loaded clip, if any.
func (d *Deck) Clip() *Clip {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clip
}

func (d *Deck) Playing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func clampRate(rate float64) float64 {
	return profile.Profile{Pitch: rate}.PlaybackRate()
}
