package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/toneshift/internal/playback"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/transform"
	"github.com/loqalabs/toneshift/internal/tts"
)

// Trigger records what started a generation.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
	TriggerLoop   Trigger = "loop"
)

type attempt struct {
	pipeline  Pipeline
	trigger   Trigger
	runID     string
	utterance protocol.Utterance
	autoplay  bool
}

// GenerateNeutral neutralizes the active utterance, synthesizes it and
// starts playback. A superseded result returns ErrSuperseded and leaves no
// trace in the visible state.
func (c *Console) GenerateNeutral(ctx context.Context) error {
	c.mu.Lock()
	u := c.utterance
	c.mu.Unlock()
	_, err := c.run(ctx, attempt{pipeline: Neutral, trigger: TriggerManual, utterance: u, autoplay: true})
	return err
}

// GenerateWarm synthesizes text with the warm preset, falling back to the
// configured agent reply when text is blank.
func (c *Console) GenerateWarm(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(c.cfg.AgentText)
	}
	_, err := c.run(ctx, attempt{pipeline: Warm, trigger: TriggerManual, utterance: protocol.Utterance{Text: text}, autoplay: true})
	return err
}

// run is one fenced request: begin, produce text, synthesize, then commit
// or discard.
func (c *Console) run(ctx context.Context, a attempt) (*playback.Clip, error) {
	if a.runID == "" {
		a.runID = c.sessionID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if a.trigger == TriggerAuto && c.states[a.pipeline].Phase == PhaseLoading {
		c.mu.Unlock()
		c.metrics.outcome(ctx, a.pipeline, outcomeDropped)
		return nil, ErrDropped
	}
	c.decks[a.pipeline].Eject()
	gen := c.fence.Begin(a.pipeline)
	attemptCtx, done := c.trackLocked(ctx, a.pipeline, gen)
	c.states[a.pipeline] = c.states[a.pipeline].begin(gen, a.utterance, c.now())
	c.mu.Unlock()
	defer done()

	c.emit(protocol.PipelineEvent{
		Type:       EventLoading,
		Pipeline:   string(a.pipeline),
		Generation: gen,
		RunID:      a.runID,
		Utterance:  a.utterance.Text,
	})

	text := strings.TrimSpace(a.utterance.Text)
	if text == "" {
		return nil, c.fail(a, gen, ErrEmptyUtterance)
	}
	voice, err := c.resolveVoice(attemptCtx)
	if err != nil {
		return nil, c.fail(a, gen, err)
	}

	res := transform.Result{TransformedText: text, OriginalText: text}
	preset := tts.PresetWarm
	if a.pipeline == Neutral {
		preset = tts.PresetNeutral
		res, err = c.deps.Transformer.Transform(attemptCtx, transform.Request{Message: text})
		if err != nil {
			return nil, c.fail(a, gen, err)
		}
	}

	audio, err := c.deps.Synthesizer.Synthesize(attemptCtx, tts.SynthRequest{
		Text:    res.TransformedText,
		VoiceID: voice,
		Preset:  preset,
		Speed:   tts.SynthesisSpeed(preset, c.deps.Profiles.Current()),
	})
	if err != nil {
		return nil, c.fail(a, gen, err)
	}
	clip := playback.NewClip(audio.Data, audio.ContentType, audio.Format).OnRelease(c.clipReleased)

	c.mu.Lock()
	committed := c.fence.Commit(a.pipeline, gen, func() {
		c.states[a.pipeline] = c.states[a.pipeline].commit(res, clip.ID, c.now())
		if a.pipeline == Neutral {
			c.lastTriggeredKey = a.utterance.Key()
		}
		c.decks[a.pipeline].Load(clip)
	})
	c.mu.Unlock()

	if !committed {
		clip.Release()
		c.metrics.outcome(ctx, a.pipeline, outcomeDiscarded)
		c.emit(protocol.PipelineEvent{Type: EventDiscarded, Pipeline: string(a.pipeline), Generation: gen, RunID: a.runID})
		return nil, ErrSuperseded
	}

	c.metrics.outcome(ctx, a.pipeline, outcomeCommitted)
	c.emit(protocol.PipelineEvent{
		Type:            EventCommitted,
		Pipeline:        string(a.pipeline),
		Generation:      gen,
		RunID:           a.runID,
		Utterance:       a.utterance.Text,
		TransformedText: res.TransformedText,
		Emotion:         res.Emotion,
		Confidence:      res.ConfidenceRaw,
	})
	c.logger.Info("pipeline committed",
		slog.String("pipeline", string(a.pipeline)),
		slog.String("trigger", string(a.trigger)),
		slog.Uint64("generation", gen))

	if a.autoplay {
		c.playAsync(a.pipeline, clip, a.runID)
	}
	return clip, nil
}

// trackLocked derives the attempt context. It ends with ctx, with Close,
// or when the pipeline is invalidated.
func (c *Console) trackLocked(ctx context.Context, p Pipeline, gen uint64) (context.Context, func()) {
	attemptCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	c.inflight[p][gen] = cancel
	return attemptCtx, func() {
		stop()
		cancel()
		c.mu.Lock()
		delete(c.inflight[p], gen)
		c.mu.Unlock()
	}
}

// fail records err on the pipeline if gen is still current. Cancellation is
// never recorded.
func (c *Console) fail(a attempt, gen uint64, err error) error {
	if IsSilent(err) {
		c.metrics.outcome(c.ctx, a.pipeline, outcomeCancelled)
		return err
	}
	msg := err.Error()
	c.mu.Lock()
	applied := c.fence.Commit(a.pipeline, gen, func() {
		c.states[a.pipeline] = c.states[a.pipeline].fail(msg, c.now())
	})
	c.mu.Unlock()

	if !applied {
		c.metrics.outcome(c.ctx, a.pipeline, outcomeDiscarded)
		return ErrSuperseded
	}
	c.metrics.outcome(c.ctx, a.pipeline, outcomeFailed)
	c.logger.Warn("pipeline failed",
		slog.String("pipeline", string(a.pipeline)),
		slog.String("trigger", string(a.trigger)),
		slog.Uint64("generation", gen),
		slogError(err))
	c.emit(protocol.PipelineEvent{Type: EventFailed, Pipeline: string(a.pipeline), Generation: gen, RunID: a.runID, Error: msg})
	return err
}

func (c *Console) playAsync(p Pipeline, clip *playback.Clip, runID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		deck := c.decks[p]
		if deck.Clip() != clip {
			return
		}
		c.playClip(c.ctx, deck, runID)
	}()
}

// playClip plays whatever deck holds and reports the outcome.
func (c *Console) playClip(ctx context.Context, deck *playback.Deck, runID string) error {
	err := deck.Play(ctx)
	switch {
	case err == nil:
		c.emit(protocol.PipelineEvent{Type: EventPlaybackEnded, Pipeline: deck.Name(), RunID: runID})
	case IsSilent(err):
	default:
		c.logger.Warn("playback failed", slog.String("pipeline", deck.Name()), slogError(err))
	}
	return err
}

func (c *Console) clipReleased(clip *playback.Clip) {
	c.metrics.released(c.ctx)
	if c.releaseHook != nil {
		c.releaseHook(clip)
	}
}

// Play restarts playback of the committed clip of p.
func (c *Console) Play(p Pipeline) error {
	deck, ok := c.decks[p]
	if !ok {
		return fmt.Errorf("unknown pipeline %q", p)
	}
	clip := deck.Clip()
	if clip == nil {
		return playback.ErrNoClip
	}
	c.playAsync(p, clip, c.sessionID)
	return nil
}
