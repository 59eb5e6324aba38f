package eleven

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingKey(t *testing.T) {
	c := New("http://127.0.0.1:1", "", time.Second, nil)
	require.False(t, c.Configured())
	_, err := c.ListVoices(context.Background())
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestTextToSpeechValidation(t *testing.T) {
	c := New("http://127.0.0.1:1", "k", time.Second, nil)
	_, err := c.TextToSpeech(context.Background(), TTSRequest{VoiceID: "v"})
	require.EqualError(t, err, "text is required")
	_, err = c.TextToSpeech(context.Background(), TTSRequest{Text: "hi"})
	require.EqualError(t, err, "voiceId is required")
}

func TestTextToSpeechPreservesUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key"}}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "bad", time.Second, srv.Client())
	_, err := c.TextToSpeech(context.Background(), TTSRequest{Text: "hi", VoiceID: "v"})
	var upErr *upstream.Error
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, http.StatusUnauthorized, upErr.Status)
	require.Equal(t, http.StatusUnauthorized, upstream.StatusOf(err))
}

func TestParseVoices(t *testing.T) {
	voices, err := ParseVoices([]byte(`{"voices":[{"voice_id":"a","name":"Anna","category":"premade"},{"name":"no id"},{"voice_id":"b"}]}`))
	require.NoError(t, err)
	require.Equal(t, []Voice{
		{VoiceID: "a", Name: "Anna", Category: "premade"},
		{VoiceID: "b", Name: "Unknown"},
	}, voices)

	voices, err = ParseVoices([]byte(`[{"voice_id":"c","name":"Cora"}]`))
	require.NoError(t, err)
	require.Len(t, voices, 1)
}

func TestCreateVoicePreviewsBody(t *testing.T) {
	var body map[string]any
	var format string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format = r.URL.Query().Get("output_format")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"previews":[{"audio_base_64":"AAA","generated_voice_id":"g1","media_type":"audio/mpeg"},{"generated_voice_id":"broken"}],"text":"sample"}`))
	}))
	t.Cleanup(srv.Close)

	seed := int64(7)
	c := New(srv.URL, "k", time.Second, srv.Client())
	out, err := c.CreateVoicePreviews(context.Background(), PreviewRequest{
		VoiceDescription: " calm agent ",
		Text:             "ignored when auto",
		AutoGenerateText: true,
		Seed:             &seed,
	})
	require.NoError(t, err)
	require.Equal(t, DefaultDesignFormat, format)
	require.Equal(t, "calm agent", body["voice_description"])
	require.Equal(t, true, body["auto_generate_text"])
	require.NotContains(t, body, "text")
	require.EqualValues(t, 7, body["seed"])
	require.Len(t, out.Previews, 1)
	require.Equal(t, "g1", out.Previews[0].GeneratedVoiceID)
}

func TestDesignRequestValidate(t *testing.T) {
	require.EqualError(t, DesignRequest{}.Validate(), "voiceName is required")
	require.EqualError(t, DesignRequest{VoiceName: "n"}.Validate(), "voiceDescription is required")
	require.EqualError(t, DesignRequest{VoiceName: "n", VoiceDescription: "d"}.Validate(), "generatedVoiceId is required")
}

func TestAddVoiceMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/voices/add", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "clone", r.FormValue("name"))
		assert.Equal(t, `{"accent":"seoul"}`, r.FormValue("labels"))
		files := r.MultipartForm.File["files"]
		if assert.Len(t, files, 1) {
			f, err := files[0].Open()
			if assert.NoError(t, err) {
				data, _ := io.ReadAll(f)
				assert.Equal(t, "RIFF", string(data))
			}
		}
		_, _ = w.Write([]byte(`{"voice_id":"new-voice"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "k", time.Second, srv.Client())
	id, err := c.AddVoice(context.Background(), CloneRequest{
		Name:   "clone",
		Labels: map[string]string{"accent": "seoul"},
		Files:  []SampleFile{{Name: "a.wav", Data: []byte("RIFF")}},
	})
	require.NoError(t, err)
	require.Equal(t, "new-voice", id)
}

func TestRealtimeToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/single-use-token/realtime_scribe", r.URL.Path)
		_, _ = w.Write([]byte(`{"token":"tok"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "k", time.Second, srv.Client())
	tok, err := c.RealtimeToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
}
