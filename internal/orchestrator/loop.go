package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/toneshift/internal/playback"
	"github.com/loqalabs/toneshift/internal/protocol"
)

type loopState struct {
	running   bool
	gen       uint64
	cancel    context.CancelFunc
	runID     string
	lastError string
}

// LoopSnapshot is the visible loop record.
type LoopSnapshot struct {
	Running    bool   `json:"running"`
	Generation uint64 `json:"generation"`
	RunID      string `json:"run_id,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// StartLoop begins the continuous pull, transform, synthesize and play
// cycle. It returns false when the loop is already running or no source is
// configured.
func (c *Console) StartLoop() bool {
	if c.deps.Source == nil {
		return false
	}
	c.mu.Lock()
	if c.closed || c.loop.running {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.loop = loopState{running: true, gen: c.loop.gen + 1, cancel: cancel, runID: uuid.NewString()}
	gen, runID := c.loop.gen, c.loop.runID
	c.invalidateLocked(Neutral)
	c.states[Neutral] = c.states[Neutral].cleared(c.now())
	c.wg.Add(1)
	c.mu.Unlock()

	c.debounce.Cancel()
	c.logger.Info("loop started", slog.String("run_id", runID), slog.Uint64("loop_generation", gen))
	c.emit(protocol.PipelineEvent{Type: EventLoopStarted, Pipeline: string(Neutral), RunID: runID, Generation: gen})
	go c.runLoop(ctx, gen, runID)
	return true
}

// StopLoop ends the loop. Whatever the loop is suspended on (fetch, request,
// pause or playback) returns promptly and commits nothing.
func (c *Console) StopLoop() bool {
	c.mu.Lock()
	if !c.loop.running {
		c.mu.Unlock()
		return false
	}
	c.loop.gen++
	c.loop.running = false
	c.loop.cancel()
	c.loop.cancel = nil
	runID := c.loop.runID
	c.invalidateLocked(Neutral)
	c.mu.Unlock()

	c.logger.Info("loop stopped", slog.String("run_id", runID))
	c.emit(protocol.PipelineEvent{Type: EventLoopStopped, Pipeline: string(Neutral), RunID: runID})
	return true
}

func (c *Console) loopActive(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop.running && c.loop.gen == gen
}

func (c *Console) runLoop(ctx context.Context, gen uint64, runID string) {
	defer c.wg.Done()
	var failure error
	defer func() {
		c.mu.Lock()
		mine := c.loop.running && c.loop.gen == gen
		if mine {
			c.loop.running = false
			c.loop.cancel()
			c.loop.cancel = nil
			if failure != nil {
				c.loop.lastError = failure.Error()
			}
		}
		c.mu.Unlock()
		if mine {
			evt := protocol.PipelineEvent{Type: EventLoopStopped, Pipeline: string(Neutral), RunID: runID}
			if failure != nil {
				evt.Error = failure.Error()
			}
			c.emit(evt)
		}
	}()

	var lastKey string
	for c.loopActive(gen) {
		u, err := c.deps.Source.Next(ctx)
		if err != nil {
			if !IsSilent(err) && c.loopActive(gen) {
				failure = err
				c.recordLoopError(gen, err)
			}
			return
		}

		key := u.Key()
		if key == lastKey {
			if sleep(ctx, c.cfg.LoopIdle) != nil {
				return
			}
			continue
		}
		lastKey = key

		c.mu.Lock()
		if !c.loop.running || c.loop.gen != gen {
			c.mu.Unlock()
			return
		}
		c.utterance = u
		c.mu.Unlock()
		c.emit(protocol.PipelineEvent{Type: EventUtterance, Pipeline: string(Neutral), RunID: runID, Utterance: u.Text})

		_, err = c.run(ctx, attempt{pipeline: Neutral, trigger: TriggerLoop, runID: runID, utterance: u})
		switch {
		case errors.Is(err, ErrSuperseded):
			continue
		case err != nil && IsSilent(err):
			return
		case err != nil:
			// Already recorded on the pipeline by run.
			failure = err
			return
		}

		err = c.playClip(ctx, c.decks[Neutral], runID)
		switch {
		case err == nil, errors.Is(err, playback.ErrStopped), errors.Is(err, playback.ErrNoClip), errors.Is(err, playback.ErrReleased):
		case IsSilent(err):
			return
		default:
			failure = err
			return
		}
		if sleep(ctx, c.cfg.LoopPause) != nil {
			return
		}
	}
}

// recordLoopError surfaces a failure that did not come from a fenced
// request, such as a source error.
func (c *Console) recordLoopError(gen uint64, err error) {
	c.mu.Lock()
	if c.loop.gen == gen {
		c.states[Neutral] = c.states[Neutral].fail(err.Error(), c.now())
	}
	c.mu.Unlock()
	c.metrics.outcome(c.ctx, Neutral, outcomeFailed)
	c.logger.Warn("loop source failed", slogError(err))
}

func (c *Console) loopSnapshotLocked() LoopSnapshot {
	return LoopSnapshot{
		Running:    c.loop.running,
		Generation: c.loop.gen,
		RunID:      c.loop.runID,
		LastError:  c.loop.lastError,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
