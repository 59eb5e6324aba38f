// Package httpapi serves the gateway proxies and the console control API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/eventstore"
	"github.com/loqalabs/toneshift/internal/orchestrator"
	"github.com/loqalabs/toneshift/internal/upstream"
)

// Audit lists the recorded timeline. *eventstore.Store satisfies it.
type Audit interface {
	ListRuns(ctx context.Context, limit int) ([]eventstore.Run, error)
	ListRunEvents(ctx context.Context, runID string, limit int) ([]eventstore.Event, error)
}

type Options struct {
	// TransformOrigin is the backend behind /api/ai/*.
	TransformOrigin  string
	TransformTimeout time.Duration
	// GeneratorPath is the backend path relayed by /api/ai/swear.
	GeneratorPath string
	CORSOrigin    string
	HTTPClient    *http.Client
}

type Server struct {
	opts    Options
	console *orchestrator.Console
	eleven  *eleven.Client
	audit   Audit
	backend *upstream.Client
	hub     *Hub
	logger  *slog.Logger
}

// New builds the API. console, elevenClient and audit may be nil; the routes
// that need them are then not registered.
func New(opts Options, console *orchestrator.Console, elevenClient *eleven.Client, audit Audit, logger *slog.Logger) *Server {
	if strings.TrimSpace(opts.GeneratorPath) == "" {
		opts.GeneratorPath = "/ai/swear"
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	logger = logger.With(slog.String("component", "httpapi"))
	s := &Server{
		opts:    opts,
		console: console,
		eleven:  elevenClient,
		audit:   audit,
		backend: upstream.NewClient("transform", opts.TransformTimeout, opts.HTTPClient),
		logger:  logger,
	}
	if console != nil {
		s.hub = NewHub(console, logger)
	}
	return s
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/api/", s.cors(s.routes()))
}

// Close disconnects event stream clients.
func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ai/transform", s.handleTransform)
	mux.HandleFunc("GET /api/ai/swear", s.handleGenerator)

	mux.HandleFunc("POST /api/eleven/tts", s.handleTTS)
	mux.HandleFunc("GET /api/eleven/voices", s.handleVoices)
	mux.HandleFunc("POST /api/eleven/voices/add", s.handleAddVoice)
	mux.HandleFunc("POST /api/eleven/voice-design/previews", s.handlePreviews)
	mux.HandleFunc("POST /api/eleven/voice-design/create", s.handleCreateVoice)
	mux.HandleFunc("GET /api/eleven/scribe-token", s.handleScribeToken)
	mux.HandleFunc("POST /api/eleven/scribe-token", s.handleScribeToken)

	if s.console != nil {
		s.registerConsole(mux)
	}
	if s.audit != nil {
		mux.HandleFunc("GET /api/audit/runs", s.handleRuns)
		mux.HandleFunc("GET /api/audit/runs/{id}/events", s.handleRunEvents)
	}
	return mux
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error          string `json:"error"`
	Detail         string `json:"detail,omitempty"`
	Details        string `json:"details,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// relay copies an upstream answer through unchanged.
func relay(w http.ResponseWriter, resp upstream.Response, fallbackType string) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = fallbackType
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// decodeBody reads a JSON body into v. An empty or invalid body leaves v at
// its zero value, so field validation reports what is missing.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) {
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

// decodeState reads a JSON body that changes console state. An empty body
// leaves v untouched; a malformed one is answered with 400 and reported as
// false so the caller changes nothing.
func decodeState(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body", Detail: err.Error()})
	return false
}

func gatewayStatus(err error) (int, string) {
	if errors.Is(err, upstream.ErrTimeout) {
		return http.StatusGatewayTimeout, "Gateway Timeout"
	}
	return http.StatusBadGateway, "Bad Gateway"
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
