package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/playback"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/transform"
	"github.com/loqalabs/toneshift/internal/tts"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// 16 bytes per millisecond at mp3_44100_128.
func mp3Audio(length time.Duration) tts.Audio {
	return tts.Audio{Data: make([]byte, int(length.Milliseconds())*16), ContentType: "audio/mpeg", Format: "mp3_44100_128"}
}

type fakeTransformer struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	fn      func(ctx context.Context, msg string, n int) (transform.Result, error)
}

func (f *fakeTransformer) Transform(ctx context.Context, req transform.Request) (transform.Result, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, req.Message)
	fn := f.fn
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.Message
	}
	if fn != nil {
		return fn(ctx, req.Message, n)
	}
	return transform.Result{TransformedText: "neutral: " + req.Message, Emotion: "anger", ConfidenceRaw: "80%"}, nil
}

func (f *fakeTransformer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSynth struct {
	mu      sync.Mutex
	calls   []tts.SynthRequest
	started chan tts.SynthRequest
	fn      func(ctx context.Context, req tts.SynthRequest, n int) (tts.Audio, error)
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (tts.Audio, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req
	}
	if fn != nil {
		return fn(ctx, req, n)
	}
	return mp3Audio(10 * time.Millisecond), nil
}

func (f *fakeSynth) Calls() []tts.SynthRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.SynthRequest(nil), f.calls...)
}

// scriptedSource returns its items in order, then blocks until cancelled.
type scriptedSource struct {
	mu    sync.Mutex
	items []protocol.Utterance
	calls []time.Time
}

func (s *scriptedSource) Next(ctx context.Context) (protocol.Utterance, error) {
	s.mu.Lock()
	s.calls = append(s.calls, time.Now())
	if len(s.items) > 0 {
		u := s.items[0]
		s.items = s.items[1:]
		s.mu.Unlock()
		return u, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return protocol.Utterance{}, ctx.Err()
}

func (s *scriptedSource) Calls() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

type fakeVoices struct {
	voices []eleven.Voice
	err    error
}

func (f fakeVoices) ListVoices(context.Context) ([]eleven.Voice, error) {
	return f.voices, f.err
}

type releaseCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *releaseCounter) add(c *playback.Clip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[c.ID]++
}

func (r *releaseCounter) snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []protocol.PipelineEvent
}

func (l *eventLog) add(evt protocol.PipelineEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) count(typ string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	console  *Console
	releases *releaseCounter
	events   *eventLog
}

func newHarness(t *testing.T, cfg Config, deps Deps) *harness {
	t.Helper()
	if deps.Profiles == nil {
		store, err := profile.Open(context.Background(), profile.NewMemoryKV(), "", testLogger())
		require.NoError(t, err)
		deps.Profiles = store
	}
	if deps.Renderer == nil {
		deps.Renderer = playback.NewClockRenderer(time.Millisecond)
	}
	if deps.Transformer == nil {
		deps.Transformer = &fakeTransformer{}
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = &fakeSynth{}
	}
	c := New(context.Background(), cfg, deps, testLogger())
	h := &harness{console: c, releases: &releaseCounter{counts: make(map[string]int)}, events: &eventLog{}}
	c.releaseHook = h.releases.add
	c.Subscribe(h.events.add)
	t.Cleanup(c.Close)
	return h
}

// waitIdle waits for every console goroutine to return.
func waitIdle(t *testing.T, c *Console, within time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(within):
		t.Fatalf("console goroutines still running after %s", within)
	}
}
