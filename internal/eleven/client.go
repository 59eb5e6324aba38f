// Package eleven is a small client for the ElevenLabs speech APIs used by
// ToneShift: text-to-speech, voice listing, voice design, instant voice
// cloning and realtime transcription tokens.
package eleven

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/toneshift/internal/upstream"
)

const (
	DefaultBaseURL      = "https://api.elevenlabs.io"
	DefaultModelID      = "eleven_turbo_v2_5"
	DefaultOutputFormat = "mp3_44100_128"
	DefaultDesignFormat = "mp3_44100_192"
)

// ErrMissingAPIKey is returned by every call when no key is configured.
var ErrMissingAPIKey = errors.New("missing ELEVENLABS_API_KEY")

// ErrNoToken is returned when the token endpoint answered 2xx without a token.
var ErrNoToken = errors.New("upstream returned no token")

// Client talks to the ElevenLabs REST API.
type Client struct {
	baseURL string
	apiKey  string
	up      *upstream.Client
}

func New(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		up:      upstream.NewClient("elevenlabs", timeout, httpClient),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// Forward sends a raw request to path (which may carry a query string) and
// returns the buffered answer regardless of status.
func (c *Client) Forward(ctx context.Context, method, path, contentType string, body io.Reader) (upstream.Response, error) {
	if !c.Configured() {
		return upstream.Response{}, ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return upstream.Response{}, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.up.Do(ctx, req)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (upstream.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return upstream.Response{}, err
	}
	resp, err := c.Forward(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return resp, err
	}
	return resp, c.up.Expect2xx(resp)
}

// VoiceSettings are the per-request synthesis knobs.
type VoiceSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Style           *float64 `json:"style,omitempty"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

// TTSRequest mirrors the text-to-speech endpoint.
type TTSRequest struct {
	Text          string
	VoiceID       string
	ModelID       string
	OutputFormat  string
	VoiceSettings *VoiceSettings
}

type ttsBody struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
}

// Audio is a synthesized payload as returned by the provider.
type Audio struct {
	Data        []byte
	ContentType string
	Format      string
}

func (c *Client) TextToSpeech(ctx context.Context, req TTSRequest) (Audio, error) {
	text := strings.TrimSpace(req.Text)
	voiceID := strings.TrimSpace(req.VoiceID)
	if text == "" {
		return Audio{}, errors.New("text is required")
	}
	if voiceID == "" {
		return Audio{}, errors.New("voiceId is required")
	}
	if req.ModelID == "" {
		req.ModelID = DefaultModelID
	}
	if req.OutputFormat == "" {
		req.OutputFormat = DefaultOutputFormat
	}
	path := fmt.Sprintf("/v1/text-to-speech/%s?output_format=%s", url.PathEscape(voiceID), url.QueryEscape(req.OutputFormat))
	resp, err := c.postJSON(ctx, path, ttsBody{Text: text, ModelID: req.ModelID, VoiceSettings: req.VoiceSettings})
	if err != nil {
		return Audio{}, err
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return Audio{Data: resp.Body, ContentType: contentType, Format: req.OutputFormat}, nil
}

// Voice is a voice descriptor.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	resp, err := c.Forward(ctx, http.MethodGet, "/v1/voices", "", nil)
	if err != nil {
		return nil, err
	}
	if err := c.up.Expect2xx(resp); err != nil {
		return nil, err
	}
	return ParseVoices(resp.Body)
}

// ParseVoices accepts {"voices":[...]} or a bare array and drops entries
// without a voice_id.
func ParseVoices(body []byte) ([]Voice, error) {
	var raw []map[string]any
	var wrapped struct {
		Voices []map[string]any `json:"voices"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Voices != nil {
		raw = wrapped.Voices
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	voices := make([]Voice, 0, len(raw))
	for _, v := range raw {
		id := readString(v["voice_id"])
		if id == "" {
			continue
		}
		name := readString(v["name"])
		if name == "" {
			name = "Unknown"
		}
		voices = append(voices, Voice{VoiceID: id, Name: name, Category: readString(v["category"])})
	}
	return voices, nil
}

// PreviewRequest asks for designed voice previews from a prompt.
type PreviewRequest struct {
	VoiceDescription string   `json:"voiceDescription"`
	Text             string   `json:"text,omitempty"`
	AutoGenerateText bool     `json:"autoGenerateText,omitempty"`
	OutputFormat     string   `json:"outputFormat,omitempty"`
	Loudness         *float64 `json:"loudness,omitempty"`
	Quality          *float64 `json:"quality,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	GuidanceScale    *float64 `json:"guidanceScale,omitempty"`
}

// UpstreamBody renders the provider's snake_case body.
func (r PreviewRequest) UpstreamBody() map[string]any {
	body := map[string]any{"voice_description": strings.TrimSpace(r.VoiceDescription)}
	if r.AutoGenerateText {
		body["auto_generate_text"] = true
	} else if r.Text != "" {
		body["text"] = r.Text
	}
	if r.Loudness != nil {
		body["loudness"] = *r.Loudness
	}
	if r.Quality != nil {
		body["quality"] = *r.Quality
	}
	if r.Seed != nil {
		body["seed"] = *r.Seed
	}
	if r.GuidanceScale != nil {
		body["guidance_scale"] = *r.GuidanceScale
	}
	return body
}

// PreviewPath is the create-previews endpoint for the request's format.
func (r PreviewRequest) PreviewPath() string {
	format := r.OutputFormat
	if format == "" {
		format = DefaultDesignFormat
	}
	return "/v1/text-to-voice/create-previews?output_format=" + url.QueryEscape(format)
}

type Preview struct {
	AudioBase64      string   `json:"audio_base_64"`
	GeneratedVoiceID string   `json:"generated_voice_id"`
	MediaType        string   `json:"media_type"`
	DurationSecs     *float64 `json:"duration_secs,omitempty"`
	Language         string   `json:"language,omitempty"`
}

type Previews struct {
	Previews []Preview `json:"previews"`
	Text     string    `json:"text"`
}

func (c *Client) CreateVoicePreviews(ctx context.Context, req PreviewRequest) (Previews, error) {
	if strings.TrimSpace(req.VoiceDescription) == "" {
		return Previews{}, errors.New("voiceDescription is required")
	}
	resp, err := c.postJSON(ctx, req.PreviewPath(), req.UpstreamBody())
	if err != nil {
		return Previews{}, err
	}
	var out Previews
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return Previews{}, fmt.Errorf("decode voice design previews: %w", err)
	}
	kept := out.Previews[:0]
	for _, p := range out.Previews {
		if p.AudioBase64 != "" && p.GeneratedVoiceID != "" && p.MediaType != "" {
			kept = append(kept, p)
		}
	}
	out.Previews = kept
	return out, nil
}

// DesignRequest saves a generated preview as a voice.
type DesignRequest struct {
	VoiceName                 string            `json:"voiceName"`
	VoiceDescription          string            `json:"voiceDescription"`
	GeneratedVoiceID          string            `json:"generatedVoiceId"`
	Labels                    map[string]string `json:"labels,omitempty"`
	PlayedNotSelectedVoiceIDs []string          `json:"playedNotSelectedVoiceIds,omitempty"`
}

// Validate reports the first missing required field.
func (r DesignRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.VoiceName) == "":
		return errors.New("voiceName is required")
	case strings.TrimSpace(r.VoiceDescription) == "":
		return errors.New("voiceDescription is required")
	case strings.TrimSpace(r.GeneratedVoiceID) == "":
		return errors.New("generatedVoiceId is required")
	}
	return nil
}

func (r DesignRequest) UpstreamBody() map[string]any {
	body := map[string]any{
		"voice_name":         strings.TrimSpace(r.VoiceName),
		"voice_description":  strings.TrimSpace(r.VoiceDescription),
		"generated_voice_id": strings.TrimSpace(r.GeneratedVoiceID),
	}
	if r.Labels != nil {
		body["labels"] = r.Labels
	}
	if r.PlayedNotSelectedVoiceIDs != nil {
		body["played_not_selected_voice_ids"] = r.PlayedNotSelectedVoiceIDs
	}
	return body
}

func (c *Client) CreateVoiceFromDesign(ctx context.Context, req DesignRequest) (Voice, error) {
	if err := req.Validate(); err != nil {
		return Voice{}, err
	}
	resp, err := c.postJSON(ctx, "/v1/text-to-voice", req.UpstreamBody())
	if err != nil {
		return Voice{}, err
	}
	var out map[string]any
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return Voice{}, fmt.Errorf("decode voice design create: %w", err)
	}
	voice := Voice{
		VoiceID:  readString(out["voice_id"]),
		Name:     readString(out["name"]),
		Category: readString(out["category"]),
	}
	if voice.Name == "" {
		voice.Name = req.VoiceName
	}
	return voice, nil
}

// SampleFile is one audio sample uploaded for cloning.
type SampleFile struct {
	Name string
	Data []byte
}

// CloneRequest adds a voice from uploaded samples.
type CloneRequest struct {
	Name        string
	Description string
	Labels      map[string]string
	Files       []SampleFile
}

// AddVoice builds the multipart upload and returns the new voice id.
func (c *Client) AddVoice(ctx context.Context, req CloneRequest) (string, error) {
	if strings.TrimSpace(req.Name) == "" {
		return "", errors.New("name is required")
	}
	if len(req.Files) == 0 {
		return "", errors.New("at least one sample file is required")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", strings.TrimSpace(req.Name)); err != nil {
		return "", err
	}
	for _, f := range req.Files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", err
		}
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		if err := mw.WriteField("description", d); err != nil {
			return "", err
		}
	}
	if len(req.Labels) > 0 {
		labels, err := json.Marshal(req.Labels)
		if err != nil {
			return "", err
		}
		if err := mw.WriteField("labels", string(labels)); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := c.Forward(ctx, http.MethodPost, "/v1/voices/add", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	if err := c.up.Expect2xx(resp); err != nil {
		return "", err
	}
	var out map[string]any
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decode add voice: %w", err)
	}
	id := readString(out["voice_id"])
	if id == "" {
		return "", errors.New("addVoice: missing voice_id")
	}
	return id, nil
}

// RealtimeToken issues a single-use token for a realtime transcription
// session.
func (c *Client) RealtimeToken(ctx context.Context) (string, error) {
	resp, err := c.Forward(ctx, http.MethodPost, "/v1/single-use-token/realtime_scribe", "", nil)
	if err != nil {
		return "", err
	}
	if err := c.up.Expect2xx(resp); err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return "", fmt.Errorf("decode token: %w", err)
		}
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", ErrNoToken
	}
	return out.Token, nil
}

func readString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
