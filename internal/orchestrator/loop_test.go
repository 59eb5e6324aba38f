package orchestrator

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/transform"
	"github.com/loqalabs/toneshift/internal/tts"
	"github.com/loqalabs/toneshift/internal/upstream"
	"github.com/stretchr/testify/require"
)

func loopConfig() Config {
	return Config{LoopIdle: 120 * time.Millisecond, LoopPause: 10 * time.Millisecond}
}

// A repeated key is skipped with a short idle pause.
func TestLoopSkipsRepeatedKey(t *testing.T) {
	u1 := protocol.Utterance{Text: "언제 와요?", ID: "call-1", Timestamp: "t1"}
	u2 := protocol.Utterance{Text: "아직이에요?", ID: "call-2", Timestamp: "t2"}
	src := &scriptedSource{items: []protocol.Utterance{u1, u1, u2}}
	tr := &fakeTransformer{}
	h := newHarness(t, loopConfig(), Deps{Transformer: tr, Source: src})
	c := h.console

	require.True(t, c.StartLoop())
	require.Eventually(t, func() bool { return len(src.Calls()) == 4 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, []string{u1.Text, u2.Text}, tr.Calls())
	calls := src.Calls()
	require.GreaterOrEqual(t, calls[2].Sub(calls[1]), 120*time.Millisecond)
	require.Equal(t, 2, h.events.count(EventPlaybackEnded))

	require.True(t, c.StopLoop())
	waitIdle(t, c, time.Second)
	require.False(t, c.Snapshot().Loop.Running)
}

func TestStartLoopWhileRunningIsNoop(t *testing.T) {
	h := newHarness(t, loopConfig(), Deps{Source: &scriptedSource{}})
	c := h.console

	require.True(t, c.StartLoop())
	gen := c.Snapshot().Loop.Generation
	require.False(t, c.StartLoop())
	require.Equal(t, gen, c.Snapshot().Loop.Generation)
	require.Equal(t, 1, h.events.count(EventLoopStarted))

	require.True(t, c.StopLoop())
	require.False(t, c.StopLoop())
	require.Greater(t, c.Snapshot().Loop.Generation, gen)
}

func TestStartLoopWithoutSource(t *testing.T) {
	h := newHarness(t, loopConfig(), Deps{})
	require.False(t, h.console.StartLoop())
}

// Stopping at every suspension point returns the loop to idle without
// committing anything further and without surfacing an error.
func TestLoopStopAtEachSuspensionPoint(t *testing.T) {
	utter := protocol.Utterance{Text: "환불해 주세요", ID: "call-9", Timestamp: "t"}

	cases := []struct {
		name      string
		cfg       Config
		items     []protocol.Utterance
		tr        func(started chan struct{}) *fakeTransformer
		synth     *fakeSynth
		suspended func(h *harness) bool
		commits   int
	}{
		{
			name: "source fetch",
			cfg:  loopConfig(),
			suspended: func(h *harness) bool {
				return h.events.count(EventLoopStarted) == 1
			},
		},
		{
			name:  "network",
			cfg:   loopConfig(),
			items: []protocol.Utterance{utter},
			tr: func(started chan struct{}) *fakeTransformer {
				return &fakeTransformer{fn: func(ctx context.Context, _ string, _ int) (transform.Result, error) {
					close(started)
					<-ctx.Done()
					return transform.Result{}, ctx.Err()
				}}
			},
		},
		{
			name:  "pause",
			cfg:   Config{LoopIdle: 120 * time.Millisecond, LoopPause: time.Hour},
			items: []protocol.Utterance{utter},
			suspended: func(h *harness) bool {
				return h.events.count(EventPlaybackEnded) == 1
			},
			commits: 1,
		},
		{
			name:  "playback",
			cfg:   loopConfig(),
			items: []protocol.Utterance{utter},
			synth: &fakeSynth{fn: func(context.Context, tts.SynthRequest, int) (tts.Audio, error) {
				return mp3Audio(10 * time.Second), nil
			}},
			suspended: func(h *harness) bool {
				return h.console.Deck(Neutral).Playing()
			},
			commits: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			started := make(chan struct{})
			deps := Deps{Source: &scriptedSource{items: tc.items}, Synthesizer: &fakeSynth{}}
			if tc.tr != nil {
				deps.Transformer = tc.tr(started)
			}
			if tc.synth != nil {
				deps.Synthesizer = tc.synth
			}
			h := newHarness(t, tc.cfg, deps)
			c := h.console

			require.True(t, c.StartLoop())
			if tc.tr != nil {
				select {
				case <-started:
				case <-time.After(time.Second):
					t.Fatal("transform never started")
				}
			} else {
				require.Eventually(t, func() bool { return tc.suspended(h) }, time.Second, 2*time.Millisecond)
				time.Sleep(20 * time.Millisecond)
			}

			require.True(t, c.StopLoop())
			waitIdle(t, c, time.Second)

			snap := c.Snapshot()
			require.False(t, snap.Loop.Running)
			require.Empty(t, snap.Loop.LastError)
			require.Empty(t, snap.Error)
			require.NotEqual(t, PhaseLoading, snap.Neutral.Phase)
			require.Nil(t, c.Deck(Neutral).Clip())
			require.Equal(t, tc.commits, h.events.count(EventCommitted))
			require.Zero(t, h.events.count(EventFailed))
			for id, count := range h.releases.snapshot() {
				require.Equal(t, 1, count, "clip %s", id)
			}
		})
	}
}

func TestLoopFailureEndsLoop(t *testing.T) {
	tr := &fakeTransformer{fn: func(context.Context, string, int) (transform.Result, error) {
		return transform.Result{}, &upstream.Error{Service: "transform", Status: http.StatusBadGateway, Body: []byte("down")}
	}}
	src := &scriptedSource{items: []protocol.Utterance{
		{Text: "첫 번째", ID: "a", Timestamp: "1"},
		{Text: "두 번째", ID: "b", Timestamp: "2"},
	}}
	h := newHarness(t, loopConfig(), Deps{Transformer: tr, Source: src})
	c := h.console

	require.True(t, c.StartLoop())
	require.Eventually(t, func() bool { return !c.Snapshot().Loop.Running }, time.Second, 5*time.Millisecond)
	waitIdle(t, c, time.Second)

	snap := c.Snapshot()
	require.Contains(t, snap.Loop.LastError, "status 502")
	require.Equal(t, PhaseErrored, snap.Neutral.Phase)
	require.Equal(t, StatusError, snap.Status)
	require.Len(t, tr.Calls(), 1, "no retry after a failure")
	require.Equal(t, 1, h.events.count(EventLoopStopped))
}

func TestStartLoopResetsPipeline(t *testing.T) {
	h := newHarness(t, loopConfig(), Deps{Source: &scriptedSource{}})
	c := h.console
	c.SetUtterance(protocol.Utterance{Text: "이전 문장", ID: "x"})
	require.NoError(t, c.GenerateNeutral(context.Background()))
	require.Equal(t, PhaseCommitted, c.Snapshot().Neutral.Phase)

	require.True(t, c.StartLoop())
	snap := c.Snapshot()
	require.Equal(t, PhaseIdle, snap.Neutral.Phase)
	require.Empty(t, snap.Neutral.Text)
	require.Nil(t, c.Deck(Neutral).Clip())
}
