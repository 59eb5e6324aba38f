// Package orchestrator drives "utterance in, audio out": it fences
// asynchronous transform and synthesis results per pipeline, debounces
// automatic triggers, runs the continuous loop, and applies the listening
// profile to playback.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/loqalabs/toneshift/internal/config"
	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/playback"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/source"
	"github.com/loqalabs/toneshift/internal/transform"
	"github.com/loqalabs/toneshift/internal/tts"
)

var (
	ErrNoVoice        = errors.New("no voice selected")
	ErrEmptyUtterance = errors.New("utterance is empty")
	ErrNoSource       = errors.New("no utterance source configured")
	// ErrSuperseded is returned when a newer request or a stop invalidated
	// the result before it could be applied.
	ErrSuperseded = errors.New("result superseded")
	// ErrDropped is returned when an automatic trigger fired while the
	// neutral pipeline was already loading.
	ErrDropped = errors.New("auto trigger dropped")
	ErrClosed  = errors.New("console closed")
)

// IsSilent reports whether err comes from an intentional stop or from an
// attempt that lost the fence. Such errors are never shown to the user.
func IsSilent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrDropped) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, playback.ErrStopped)
}

// Config tunes timing and defaults.
type Config struct {
	VoiceID     string
	AutoTrigger bool
	Debounce    time.Duration
	MinChars    int
	LoopIdle    time.Duration
	LoopPause   time.Duration
	AgentText   string
	InitialText string
}

func ConfigFrom(cfg config.ConsoleConfig) Config {
	return Config{
		VoiceID:     cfg.VoiceID,
		AutoTrigger: cfg.AutoTrigger,
		Debounce:    time.Duration(cfg.DebounceMS) * time.Millisecond,
		MinChars:    cfg.MinChars,
		LoopIdle:    time.Duration(cfg.LoopIdleMS) * time.Millisecond,
		LoopPause:   time.Duration(cfg.LoopPauseMS) * time.Millisecond,
		AgentText:   cfg.AgentText,
		InitialText: cfg.InitialText,
	}
}

// VoiceLister lists the voices a synthesizer can use.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]eleven.Voice, error)
}

// Deps are the collaborators of a Console. Voices may be nil when the
// synthesizer does not need a voice id; Source may be nil when neither the
// loop nor manual pulls are used.
type Deps struct {
	Transformer transform.Transformer
	Synthesizer tts.Synthesizer
	Source      source.Source
	Profiles    *profile.Store
	Voices      VoiceLister
	Renderer    playback.Renderer
}

// Console is the orchestration core. Lock order: Console.mu, then any Deck.
type Console struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	debounce *debouncer

	mu               sync.Mutex
	closed           bool
	fence            *Fence
	states           map[Pipeline]PipelineState
	inflight         map[Pipeline]map[uint64]context.CancelFunc
	decks            map[Pipeline]*playback.Deck
	utterance        protocol.Utterance
	auto             bool
	transcribing     bool
	lastTriggeredKey string
	voiceID          string
	voices           []eleven.Voice
	voicesPhase      Phase
	voicesErr        string
	voicesErrAt      time.Time
	loop             loopState
	sessionID        string

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	// releaseHook observes every clip release; tests use it to count.
	releaseHook func(*playback.Clip)
	now         func() time.Time
}

func New(parent context.Context, cfg Config, deps Deps, logger *slog.Logger) *Console {
	ctx, cancel := context.WithCancel(parent)
	if cfg.MinChars <= 0 {
		cfg.MinChars = 2
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 650 * time.Millisecond
	}
	if cfg.LoopIdle <= 0 {
		// An idle loop polls the source; it must wait between polls.
		cfg.LoopIdle = 120 * time.Millisecond
	}
	logger = logger.With(slog.String("component", "console"))
	rate := deps.Profiles.Current().PlaybackRate()
	c := &Console{
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		metrics:     newMetrics(),
		ctx:         ctx,
		cancel:      cancel,
		debounce:    newDebouncer(cfg.Debounce),
		fence:       NewFence(),
		states:      make(map[Pipeline]PipelineState),
		inflight:    make(map[Pipeline]map[uint64]context.CancelFunc),
		decks:       make(map[Pipeline]*playback.Deck),
		auto:        cfg.AutoTrigger,
		voiceID:     strings.TrimSpace(cfg.VoiceID),
		voicesPhase: PhaseIdle,
		sessionID:   uuid.NewString(),
		observers:   make(map[int]Observer),
		now:         time.Now,
	}
	for _, p := range pipelines {
		c.states[p] = PipelineState{Phase: PhaseIdle}
		c.inflight[p] = make(map[uint64]context.CancelFunc)
		c.decks[p] = playback.NewDeck(string(p), deps.Renderer, rate, logger)
	}
	if text := strings.TrimSpace(cfg.InitialText); text != "" {
		c.utterance = protocol.Utterance{Text: text}
	}
	return c
}

// SessionID identifies this console instance in the audit trail.
func (c *Console) SessionID() string { return c.sessionID }

// Close stops all work and waits for background goroutines.
func (c *Console) Close() {
	c.Stop()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	for _, p := range pipelines {
		c.decks[p].Eject()
	}
}

// SetUtterance replaces the active utterance and, in auto mode, (re)arms
// the debounce timer.
func (c *Console) SetUtterance(u protocol.Utterance) {
	c.mu.Lock()
	c.utterance = u
	c.mu.Unlock()
	c.emit(protocol.PipelineEvent{Type: EventUtterance, Pipeline: string(Neutral), Utterance: u.Text})
	c.considerTrigger()
}

// considerTrigger cancels any pending timer and arms a new one when the
// active utterance qualifies.
func (c *Console) considerTrigger() {
	c.debounce.Cancel()

	c.mu.Lock()
	u := c.utterance
	arm := c.shouldTriggerLocked(u)
	c.mu.Unlock()
	if !arm {
		return
	}
	c.debounce.Schedule(func() { c.fireAuto(u) })
}

func (c *Console) shouldTriggerLocked(u protocol.Utterance) bool {
	if c.closed || !c.auto || c.transcribing || c.loop.running {
		return false
	}
	if utf8.RuneCountInString(strings.TrimSpace(u.Text)) < c.cfg.MinChars {
		return false
	}
	return u.Key() != c.lastTriggeredKey
}

func (c *Console) fireAuto(u protocol.Utterance) {
	c.mu.Lock()
	if !c.shouldTriggerLocked(u) || c.utterance.Key() != u.Key() {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	_, err := c.run(c.ctx, attempt{pipeline: Neutral, trigger: TriggerAuto, utterance: u, autoplay: true})
	if err != nil && !IsSilent(err) {
		c.logger.Debug("auto trigger failed", slogError(err))
	}
}

// SetAuto toggles automatic triggering on utterance change.
func (c *Console) SetAuto(on bool) {
	c.mu.Lock()
	c.auto = on
	c.mu.Unlock()
	c.considerTrigger()
}

// SetTranscribing marks a live transcription session. While it is active no
// automatic trigger fires.
func (c *Console) SetTranscribing(on bool) {
	c.mu.Lock()
	c.transcribing = on
	c.mu.Unlock()
	c.considerTrigger()
}

// IngestTranscript applies speech-to-text output. Partial text updates the
// utterance while keeping the console in transcribing mode; final text ends
// it and may trigger.
func (c *Console) IngestTranscript(t protocol.Transcript) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		// A blank final still ends the transcription session.
		if t.Partial {
			return
		}
		c.mu.Lock()
		c.transcribing = false
		c.mu.Unlock()
		c.considerTrigger()
		return
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	u := protocol.Utterance{Text: text, ID: t.SessionID, Timestamp: ts.UTC().Format(time.RFC3339Nano)}

	c.mu.Lock()
	c.transcribing = t.Partial
	c.utterance = u
	c.mu.Unlock()
	c.emit(protocol.PipelineEvent{Type: EventUtterance, Pipeline: string(Neutral), Utterance: u.Text})
	c.considerTrigger()
}

// PullUtterance fetches one utterance from the source and makes it active.
func (c *Console) PullUtterance(ctx context.Context) (protocol.Utterance, error) {
	if c.deps.Source == nil {
		return protocol.Utterance{}, ErrNoSource
	}
	u, err := c.deps.Source.Next(ctx)
	if err != nil {
		return protocol.Utterance{}, err
	}
	c.SetUtterance(u)
	return u, nil
}

// Profile returns the current listening profile.
func (c *Console) Profile() profile.Profile {
	return c.deps.Profiles.Current()
}

// SetProfile persists p (clamped) and retunes loaded audio immediately.
func (c *Console) SetProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	saved, err := c.deps.Profiles.Save(ctx, p)
	if err != nil {
		return saved, err
	}
	rate := saved.PlaybackRate()
	for _, pl := range pipelines {
		c.decks[pl].SetRate(rate)
	}
	c.emit(protocol.PipelineEvent{Type: EventProfile})
	return saved, nil
}

// Stop cancels every pipeline: the loop, the pending debounce, in-flight
// requests and playing audio.
func (c *Console) Stop() {
	c.StopLoop()
	c.debounce.Cancel()
	c.mu.Lock()
	for _, p := range pipelines {
		c.invalidateLocked(p)
	}
	c.mu.Unlock()
	c.emit(protocol.PipelineEvent{Type: EventStopped})
}

// invalidateLocked makes every outstanding token for p stale, cancels the
// requests behind them and releases the loaded audio.
func (c *Console) invalidateLocked(p Pipeline) {
	c.fence.Invalidate(p)
	for gen, cancel := range c.inflight[p] {
		cancel()
		delete(c.inflight[p], gen)
	}
	c.states[p] = c.states[p].stopped(c.now())
	c.decks[p].Eject()
}

// Deck exposes a pipeline's deck for reading the committed clip.
func (c *Console) Deck(p Pipeline) *playback.Deck {
	return c.decks[p]
}

// ReloadVoices lists voices and selects the first one if none is selected.
func (c *Console) ReloadVoices(ctx context.Context) ([]eleven.Voice, error) {
	if c.deps.Voices == nil {
		return nil, nil
	}
	c.mu.Lock()
	c.voicesPhase = PhaseLoading
	c.voicesErr = ""
	c.mu.Unlock()

	voices, err := c.deps.Voices.ListVoices(ctx)

	c.mu.Lock()
	if err != nil {
		if !IsSilent(err) {
			c.voicesPhase = PhaseErrored
			c.voicesErr = err.Error()
			c.voicesErrAt = c.now()
		} else {
			c.voicesPhase = PhaseIdle
		}
		c.mu.Unlock()
		return nil, err
	}
	c.voices = voices
	c.voicesPhase = PhaseCommitted
	if c.voiceID == "" && len(voices) > 0 {
		c.voiceID = voices[0].VoiceID
	}
	c.mu.Unlock()
	c.emit(protocol.PipelineEvent{Type: EventVoices})
	return voices, nil
}

func (c *Console) SelectVoice(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNoVoice
	}
	c.mu.Lock()
	c.voiceID = id
	c.mu.Unlock()
	c.emit(protocol.PipelineEvent{Type: EventVoices})
	return nil
}

func (c *Console) resolveVoice(ctx context.Context) (string, error) {
	c.mu.Lock()
	voice := c.voiceID
	c.mu.Unlock()
	if voice != "" || c.deps.Voices == nil {
		return voice, nil
	}
	if _, err := c.ReloadVoices(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	voice = c.voiceID
	c.mu.Unlock()
	if voice == "" {
		return "", ErrNoVoice
	}
	return voice, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
