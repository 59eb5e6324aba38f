package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/transform"
	"github.com/loqalabs/toneshift/internal/upstream"
)

const missingKey = "Missing ELEVENLABS_API_KEY"

func (s *Server) backendURL(path string) string {
	origin := strings.TrimSuffix(strings.TrimSpace(s.opts.TransformOrigin), "/")
	return origin + "/" + strings.TrimPrefix(path, "/")
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transform.Request
	decodeBody(w, r, &req)
	message := transform.PickMessage(req)
	if message == "" {
		writeError(w, http.StatusBadRequest, "Missing message")
		return
	}

	body, _ := json.Marshal(map[string]string{"message": message})
	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.backendURL("/ai/transform"), bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	upReq.Header.Set("Content-Type", "application/json")

	resp, err := s.backend.Do(r.Context(), upReq)
	if err != nil {
		status, msg := gatewayStatus(err)
		s.logger.Warn("transform proxy failed", slogError(err))
		writeJSON(w, status, errorBody{Error: msg, Detail: err.Error()})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	if json.Valid(resp.Body) {
		relay(w, upstream.Response{Status: resp.Status, ContentType: "application/json; charset=utf-8", Body: resp.Body}, "")
		return
	}
	relay(w, upstream.Response{Status: resp.Status, ContentType: "text/plain; charset=utf-8", Body: resp.Body}, "")
}

func (s *Server) handleGenerator(w http.ResponseWriter, r *http.Request) {
	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.backendURL(s.opts.GeneratorPath), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp, err := s.backend.Do(r.Context(), upReq)
	if err != nil {
		status, msg := gatewayStatus(err)
		writeJSON(w, status, errorBody{Error: msg, Detail: err.Error()})
		return
	}
	relay(w, resp, "application/json; charset=utf-8")
}

type ttsBody struct {
	Text          string                `json:"text"`
	VoiceID       string                `json:"voiceId"`
	ModelID       string                `json:"modelId"`
	OutputFormat  string                `json:"outputFormat"`
	VoiceSettings *eleven.VoiceSettings `json:"voiceSettings"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if !s.eleven.Configured() {
		writeError(w, http.StatusInternalServerError, missingKey)
		return
	}
	var body ttsBody
	decodeBody(w, r, &body)
	switch {
	case strings.TrimSpace(body.Text) == "":
		writeError(w, http.StatusBadRequest, "text is required")
		return
	case strings.TrimSpace(body.VoiceID) == "":
		writeError(w, http.StatusBadRequest, "voiceId is required")
		return
	}

	audio, err := s.eleven.TextToSpeech(r.Context(), eleven.TTSRequest{
		Text:          body.Text,
		VoiceID:       body.VoiceID,
		ModelID:       body.ModelID,
		OutputFormat:  body.OutputFormat,
		VoiceSettings: body.VoiceSettings,
	})
	if err != nil {
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			writeJSON(w, upErr.Status, errorBody{Error: "ElevenLabs TTS failed", Details: string(upErr.Body)})
			return
		}
		s.elevenFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", audio.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	resp, err := s.eleven.Forward(r.Context(), http.MethodGet, "/v1/voices", "", nil)
	if err != nil {
		s.elevenFailure(w, err)
		return
	}
	relay(w, resp, "application/json")
}

// handleAddVoice streams a multipart clone request through untouched.
func (s *Server) handleAddVoice(w http.ResponseWriter, r *http.Request) {
	if !s.eleven.Configured() {
		writeText(w, http.StatusInternalServerError, missingKey)
		return
	}
	contentType := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "multipart/form-data" {
		writeText(w, http.StatusBadRequest, "Content-Type must be multipart/form-data")
		return
	}
	resp, err := s.eleven.Forward(r.Context(), http.MethodPost, "/v1/voices/add", contentType, r.Body)
	if err != nil {
		s.elevenFailure(w, err)
		return
	}
	relay(w, resp, "application/json; charset=utf-8")
}

func (s *Server) handlePreviews(w http.ResponseWriter, r *http.Request) {
	if !s.eleven.Configured() {
		writeError(w, http.StatusInternalServerError, missingKey)
		return
	}
	var req eleven.PreviewRequest
	decodeBody(w, r, &req)
	if strings.TrimSpace(req.VoiceDescription) == "" {
		writeError(w, http.StatusBadRequest, "voiceDescription is required")
		return
	}
	s.forwardJSON(w, r, req.PreviewPath(), req.UpstreamBody())
}

func (s *Server) handleCreateVoice(w http.ResponseWriter, r *http.Request) {
	if !s.eleven.Configured() {
		writeError(w, http.StatusInternalServerError, missingKey)
		return
	}
	var req eleven.DesignRequest
	decodeBody(w, r, &req)
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.forwardJSON(w, r, "/v1/text-to-voice", req.UpstreamBody())
}

func (s *Server) forwardJSON(w http.ResponseWriter, r *http.Request, path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp, err := s.eleven.Forward(r.Context(), http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		s.elevenFailure(w, err)
		return
	}
	relay(w, resp, "application/json")
}

func (s *Server) handleScribeToken(w http.ResponseWriter, r *http.Request) {
	if !s.eleven.Configured() {
		writeError(w, http.StatusInternalServerError, missingKey+" in environment")
		return
	}
	token, err := s.eleven.RealtimeToken(r.Context())
	if err != nil {
		var upErr *upstream.Error
		switch {
		case errors.As(err, &upErr):
			detail := string(upErr.Body)
			if detail == "" {
				detail = http.StatusText(upErr.Status)
			}
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "Upstream token request failed", UpstreamStatus: upErr.Status, Detail: detail})
		case errors.Is(err, eleven.ErrNoToken):
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "Upstream returned no token", Detail: "empty body"})
		default:
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "fetch failed", Detail: err.Error()})
		}
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) elevenFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, eleven.ErrMissingAPIKey):
		writeError(w, http.StatusInternalServerError, missingKey)
	case errors.Is(err, upstream.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "Gateway Timeout")
	default:
		s.logger.Warn("elevenlabs call failed", slogError(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
