package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/orchestrator"
	"github.com/loqalabs/toneshift/internal/playback"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/loqalabs/toneshift/internal/source"
	"github.com/loqalabs/toneshift/internal/transform"
	"github.com/loqalabs/toneshift/internal/tts"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newAPI mounts a Server on an httptest server.
func newAPI(t *testing.T, opts Options, console *orchestrator.Console, el *eleven.Client, audit Audit) *httptest.Server {
	t.Helper()
	s := New(opts, console, el, audit, testLogger())
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return srv
}

func newConsole(t *testing.T) *orchestrator.Console {
	t.Helper()
	store, err := profile.Open(context.Background(), profile.NewMemoryKV(), "", testLogger())
	require.NoError(t, err)
	c := orchestrator.New(context.Background(), orchestrator.Config{AgentText: "잠시만 기다려 주세요"}, orchestrator.Deps{
		Transformer: transform.NewMockTransformer(),
		Synthesizer: tts.NewMockSynth(8000),
		Source:      source.NewMock(0),
		Profiles:    store,
		Renderer:    playback.NewClockRenderer(time.Millisecond),
	}, testLogger())
	t.Cleanup(c.Close)
	return c
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}
