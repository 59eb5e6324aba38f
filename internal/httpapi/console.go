package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/toneshift/internal/orchestrator"
	"github.com/loqalabs/toneshift/internal/playback"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/source"
	"github.com/loqalabs/toneshift/internal/upstream"
)

func (s *Server) registerConsole(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/console/state", s.handleState)
	mux.HandleFunc("PUT /api/console/utterance", s.handleSetUtterance)
	mux.HandleFunc("POST /api/console/pull", s.handlePull)
	mux.HandleFunc("POST /api/console/transcript", s.handleTranscript)
	mux.HandleFunc("PUT /api/console/auto", s.handleAuto)
	mux.HandleFunc("POST /api/console/neutral", s.handleNeutral)
	mux.HandleFunc("POST /api/console/warm", s.handleWarm)
	mux.HandleFunc("POST /api/console/stop", s.handleStop)
	mux.HandleFunc("POST /api/console/loop/start", s.handleLoopStart)
	mux.HandleFunc("POST /api/console/loop/stop", s.handleLoopStop)
	mux.HandleFunc("GET /api/console/profile", s.handleGetProfile)
	mux.HandleFunc("PUT /api/console/profile", s.handlePutProfile)
	mux.HandleFunc("POST /api/console/profile/reset", s.handleResetProfile)
	mux.HandleFunc("GET /api/console/audio/{pipeline}", s.handleAudio)
	mux.HandleFunc("POST /api/console/play/{pipeline}", s.handlePlay)
	mux.HandleFunc("POST /api/console/voices/reload", s.handleReloadVoices)
	mux.HandleFunc("PUT /api/console/voice", s.handleSelectVoice)
	mux.HandleFunc("GET /api/console/events", s.hub.ServeHTTP)
}

func (s *Server) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.console.Snapshot())
}

// consoleStatus maps a console error onto an HTTP status.
func consoleStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyUtterance),
		errors.Is(err, orchestrator.ErrNoVoice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrNoSource),
		errors.Is(err, playback.ErrNoClip),
		errors.Is(err, playback.ErrReleased):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	case orchestrator.IsSilent(err):
		return http.StatusConflict
	case errors.Is(err, source.ErrNoUtterance):
		return http.StatusBadGateway
	default:
		return upstream.StatusOf(err)
	}
}

func (s *Server) consoleError(w http.ResponseWriter, err error) {
	status := consoleStatus(err)
	msg := err.Error()
	if orchestrator.IsSilent(err) && !errors.Is(err, orchestrator.ErrClosed) {
		msg = "superseded"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeState(w)
}

func (s *Server) handleSetUtterance(w http.ResponseWriter, r *http.Request) {
	var u protocol.Utterance
	if !decodeState(w, r, &u) {
		return
	}
	s.console.SetUtterance(u)
	s.writeState(w)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if _, err := s.console.PullUtterance(r.Context()); err != nil {
		s.consoleError(w, err)
		return
	}
	s.writeState(w)
}

// handleTranscript lets a client that runs its own realtime transcription
// session feed partial and final text.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var tr protocol.Transcript
	if !decodeState(w, r, &tr) {
		return
	}
	s.console.IngestTranscript(tr)
	s.writeState(w)
}

type toggleBody struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	var body toggleBody
	if !decodeState(w, r, &body) {
		return
	}
	s.console.SetAuto(body.Enabled)
	s.writeState(w)
}

func (s *Server) handleNeutral(w http.ResponseWriter, r *http.Request) {
	s.generate(w, r, s.console.GenerateNeutral)
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeState(w, r, &body) {
		return
	}
	s.generate(w, r, func(ctx context.Context) error {
		return s.console.GenerateWarm(ctx, body.Text)
	})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		s.consoleError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.console.Stop()
	s.writeState(w)
}

func (s *Server) handleLoopStart(w http.ResponseWriter, _ *http.Request) {
	started := s.console.StartLoop()
	writeJSON(w, http.StatusOK, map[string]any{"changed": started, "state": s.console.Snapshot()})
}

func (s *Server) handleLoopStop(w http.ResponseWriter, _ *http.Request) {
	stopped := s.console.StopLoop()
	writeJSON(w, http.StatusOK, map[string]any{"changed": stopped, "state": s.console.Snapshot()})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.console.Profile())
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	p := s.console.Profile()
	if !decodeState(w, r, &p) {
		return
	}
	s.saveProfile(w, r, p)
}

func (s *Server) handleResetProfile(w http.ResponseWriter, r *http.Request) {
	s.saveProfile(w, r, profile.Default())
}

func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request, p profile.Profile) {
	saved, err := s.console.SetProfile(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func parsePipeline(r *http.Request) (orchestrator.Pipeline, bool) {
	switch p := orchestrator.Pipeline(strings.ToLower(r.PathValue("pipeline"))); p {
	case orchestrator.Neutral, orchestrator.Warm:
		return p, true
	default:
		return "", false
	}
}

// handleAudio serves the committed clip of a pipeline.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	p, ok := parsePipeline(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pipeline")
		return
	}
	clip := s.console.Deck(p).Clip()
	if clip == nil {
		writeError(w, http.StatusNotFound, "no audio")
		return
	}
	data := clip.Bytes()
	if data == nil {
		writeError(w, http.StatusNotFound, "no audio")
		return
	}
	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Clip-Id", clip.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	p, ok := parsePipeline(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pipeline")
		return
	}
	if err := s.console.Play(p); err != nil {
		s.consoleError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleReloadVoices(w http.ResponseWriter, r *http.Request) {
	if _, err := s.console.ReloadVoices(r.Context()); err != nil {
		s.consoleError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleSelectVoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VoiceID string `json:"voiceId"`
	}
	if !decodeState(w, r, &body) {
		return
	}
	if err := s.console.SelectVoice(body.VoiceID); err != nil {
		s.consoleError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.audit.ListRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView{RunID: run.RunID, Kind: run.Kind, Privacy: run.Privacy, CreatedAt: run.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.audit.ListRunEvents(r.Context(), r.PathValue("id"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID:         e.ID,
			RunID:      e.RunID,
			Pipeline:   e.Pipeline,
			Generation: e.Generation,
			Type:       e.Type,
			Payload:    json.RawMessage(e.Payload),
			Privacy:    e.Privacy,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

type runView struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Privacy   string    `json:"privacy_scope"`
	CreatedAt time.Time `json:"created_at"`
}

type eventView struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Pipeline   string          `json:"pipeline"`
	Generation uint64          `json:"generation"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Privacy    string          `json:"privacy_scope"`
	CreatedAt  time.Time       `json:"created_at"`
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
