package runtime

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/config"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "toneshift.db")
	cfg.Playback.TickMS = 1
	cfg.Source.DelayMS = 0
	cfg.TTS.SampleRate = 8000
	return cfg
}

func buildRuntime(t *testing.T, cfg config.Config) (*Runtime, *httptest.Server) {
	t.Helper()
	r := New(cfg, testLogger())
	handler, err := r.build(context.Background(), nil)
	if err != nil {
		r.teardown()
	}
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		r.teardown()
	})
	return r, srv
}

func request(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestReadiness(t *testing.T) {
	r, srv := buildRuntime(t, testConfig(t))

	status, body := request(t, http.MethodGet, srv.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body)

	status, _ = request(t, http.MethodGet, srv.URL+"/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, status)

	r.ready.Store(true)
	status, body = request(t, http.MethodGet, srv.URL+"/readyz", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", body)

	r.bus.Close()
	status, body = request(t, http.MethodGet, srv.URL+"/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Contains(t, body, "bus")
}

func TestNeutralRequestIsAudited(t *testing.T) {
	r, srv := buildRuntime(t, testConfig(t))

	status, _ := request(t, http.MethodPut, srv.URL+"/api/console/utterance", `{"text":"환불 언제 돼요"}`)
	require.Equal(t, http.StatusOK, status)
	status, body := request(t, http.MethodPost, srv.URL+"/api/console/neutral", "")
	require.Equal(t, http.StatusOK, status, body)

	session := r.console.SessionID()
	require.Eventually(t, func() bool {
		_, body := request(t, http.MethodGet, srv.URL+"/api/audit/runs/"+session+"/events", "")
		return strings.Contains(body, `"committed"`)
	}, 2*time.Second, 10*time.Millisecond)

	_, body = request(t, http.MethodGet, srv.URL+"/api/audit/runs", "")
	require.Contains(t, body, session)
}

func TestBusUtteranceReachesConsole(t *testing.T) {
	cfg := testConfig(t)
	r, _ := buildRuntime(t, cfg)

	require.NoError(t, r.bus.PublishJSON(cfg.Source.Subject, protocol.Utterance{Text: "전화 좀 받아요", ID: "u1", Timestamp: "t1"}))
	require.Eventually(t, func() bool {
		return r.console.Snapshot().Utterance.Text == "전화 좀 받아요"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBusSourceSkipsUtteranceIngest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Mode = "bus"
	r, srv := buildRuntime(t, cfg)
	require.NotNil(t, r.busSource)

	require.NoError(t, r.bus.PublishJSON(cfg.Source.Subject, protocol.Utterance{Text: "언제 와요", ID: "u2", Timestamp: "t2"}))
	status, body := request(t, http.MethodPost, srv.URL+"/api/console/pull", "")
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "언제 와요", r.console.Snapshot().Utterance.Text)
}

func TestRuntimeWithoutBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = false
	r, srv := buildRuntime(t, cfg)
	require.Nil(t, r.bus)
	require.Nil(t, r.ingest)

	r.ready.Store(true)
	status, _ := request(t, http.MethodGet, srv.URL+"/readyz", "")
	require.Equal(t, http.StatusOK, status)
}

func TestUnknownModesFail(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transform.Mode = "bogus"
	_, err := newTransformer(cfg)
	require.Error(t, err)

	cfg.TTS.Mode = "bogus"
	_, err = newSynthesizer(cfg, nil)
	require.Error(t, err)

	_, err = newRenderer(config.PlaybackConfig{Mode: "bogus"})
	require.Error(t, err)

	cfg.Bus.Enabled = false
	cfg.Source.Mode = "bus"
	_, err = New(cfg, testLogger()).newSource(cfg)
	require.Error(t, err)
}
