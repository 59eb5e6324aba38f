package httpapi

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/config"
	"github.com/loqalabs/toneshift/internal/eventstore"
	"github.com/loqalabs/toneshift/internal/orchestrator"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/stretchr/testify/require"
)

func TestConsoleNeutralRoundTrip(t *testing.T) {
	c := newConsole(t)
	srv := newAPI(t, Options{}, c, nil, nil)

	resp, body := do(t, http.MethodPut, srv.URL+"/api/console/utterance", map[string]string{"text": "배송 왜이렇게 늦어요!!", "id": "c1", "ts": "t1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[orchestrator.Snapshot](t, body)
	require.Equal(t, "c1", snap.Utterance.ID)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/console/neutral", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	snap = decode[orchestrator.Snapshot](t, body)
	require.Equal(t, orchestrator.PhaseCommitted, snap.Neutral.Phase)
	require.Equal(t, "[neutral] 배송 왜이렇게 늦어요", snap.Neutral.Text)
	require.Equal(t, orchestrator.StatusOK, snap.Status)

	resp, audio := do(t, http.MethodGet, srv.URL+"/api/console/audio/neutral", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	require.Equal(t, snap.Neutral.ClipID, resp.Header.Get("X-Clip-Id"))
	require.Equal(t, "RIFF", string(audio[:4]))

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/console/play/neutral", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/console/audio/warm", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/console/audio/loud", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/console/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[orchestrator.Snapshot](t, body)
	require.Empty(t, snap.Neutral.ClipID)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/console/audio/neutral", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "stop releases audio")
}

func TestConsoleErrors(t *testing.T) {
	c := newConsole(t)
	srv := newAPI(t, Options{}, c, nil, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/console/neutral", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, orchestrator.ErrEmptyUtterance.Error(), decode[errorBody](t, body).Error)

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/console/voice", map[string]string{"voiceId": ""})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/console/play/warm", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsoleRejectsMalformedBody(t *testing.T) {
	c := newConsole(t)
	srv := newAPI(t, Options{}, c, nil, nil)

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/console/utterance", map[string]string{"text": "환불 언제 돼요"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPut, srv.URL+"/api/console/auto", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodPut, srv.URL+"/api/console/utterance", `{"text": 42`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Invalid JSON body", decode[errorBody](t, body).Error)

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/console/auto", "not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/console/profile", `{"pace": "fast"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = do(t, http.MethodGet, srv.URL+"/api/console/state", nil)
	snap := decode[orchestrator.Snapshot](t, body)
	require.Equal(t, "환불 언제 돼요", snap.Utterance.Text)
	require.True(t, snap.Auto)
}

func TestConsoleStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusConflict, consoleStatus(orchestrator.ErrSuperseded))
	require.Equal(t, http.StatusConflict, consoleStatus(context.Canceled))
	require.Equal(t, http.StatusServiceUnavailable, consoleStatus(orchestrator.ErrClosed))
	require.Equal(t, http.StatusNotFound, consoleStatus(orchestrator.ErrNoSource))
	require.Equal(t, http.StatusBadGateway, consoleStatus(context.DeadlineExceeded))
}

func TestConsoleWarmPullAndAuto(t *testing.T) {
	c := newConsole(t)
	srv := newAPI(t, Options{}, c, nil, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/console/warm", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	snap := decode[orchestrator.Snapshot](t, body)
	require.Equal(t, orchestrator.PhaseCommitted, snap.Warm.Phase)
	require.Equal(t, "잠시만 기다려 주세요", snap.Warm.Text)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/console/pull", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[orchestrator.Snapshot](t, body)
	require.NotEmpty(t, snap.Utterance.Text)
	require.NotEmpty(t, snap.Utterance.Timestamp)

	resp, body = do(t, http.MethodPut, srv.URL+"/api/console/auto", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decode[orchestrator.Snapshot](t, body).Auto)
}

func TestConsoleTranscriptIngest(t *testing.T) {
	c := newConsole(t)
	srv := newAPI(t, Options{}, c, nil, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/console/transcript", map[string]any{"session_id": "mic", "text": "환불이", "partial": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[orchestrator.Snapshot](t, body)
	require.True(t, snap.Transcribing)
	require.Equal(t, "환불이", snap.Utterance.Text)

	_, body = do(t, http.MethodPost, srv.URL+"/api/console/transcript", map[string]any{"session_id": "mic", "text": "환불이 안 돼요"})
	snap = decode[orchestrator.Snapshot](t, body)
	require.False(t, snap.Transcribing)
	require.Equal(t, "환불이 안 돼요", snap.Utterance.Text)
}

func TestConsoleLoopEndpoints(t *testing.T) {
	c := newConsole(t)
	srv := newAPI(t, Options{}, c, nil, nil)

	type loopAnswer struct {
		Changed bool                  `json:"changed"`
		State   orchestrator.Snapshot `json:"state"`
	}
	resp, body := do(t, http.MethodPost, srv.URL+"/api/console/loop/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[loopAnswer](t, body)
	require.True(t, out.Changed)
	require.True(t, out.State.Loop.Running)

	_, body = do(t, http.MethodPost, srv.URL+"/api/console/loop/start", nil)
	require.False(t, decode[loopAnswer](t, body).Changed)

	_, body = do(t, http.MethodPost, srv.URL+"/api/console/loop/stop", nil)
	out = decode[loopAnswer](t, body)
	require.True(t, out.Changed)
	require.False(t, out.State.Loop.Running)
}

func TestConsoleProfileEndpoints(t *testing.T) {
	c := newConsole(t)
	srv := newAPI(t, Options{}, c, nil, nil)

	resp, body := do(t, http.MethodPut, srv.URL+"/api/console/profile", map[string]float64{"pace": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, profile.Profile{Pace: profile.Max, Pitch: 1}, decode[profile.Profile](t, body))

	_, body = do(t, http.MethodGet, srv.URL+"/api/console/profile", nil)
	require.Equal(t, profile.Max, decode[profile.Profile](t, body).Pace)

	_, body = do(t, http.MethodGet, srv.URL+"/api/console/state", nil)
	require.InDelta(t, 1.15, decode[orchestrator.Snapshot](t, body).NeutralSpeed, 1e-9)

	_, body = do(t, http.MethodPost, srv.URL+"/api/console/profile/reset", nil)
	require.Equal(t, profile.Default(), decode[profile.Profile](t, body))
}

func TestAuditEndpoints(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "audit.db"),
		RetentionMode: "session",
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.AppendRun(ctx, "run-1", "session", "internal"))
	require.NoError(t, store.AppendEvent(ctx, eventstore.Event{RunID: "run-1", Pipeline: "neutral", Generation: 2, Type: "committed", Payload: []byte(`{"type":"committed"}`), Privacy: "internal", CreatedAt: time.Now()}))

	srv := newAPI(t, Options{}, nil, nil, store)
	resp, body := do(t, http.MethodGet, srv.URL+"/api/audit/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), `"run_id":"run-1"`), string(body))

	resp, body = do(t, http.MethodGet, srv.URL+"/api/audit/runs/run-1/events?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[struct {
		Events []eventView `json:"events"`
	}](t, body)
	require.Len(t, out.Events, 1)
	require.Equal(t, uint64(2), out.Events[0].Generation)
	require.JSONEq(t, `{"type":"committed"}`, string(out.Events[0].Payload))
}
