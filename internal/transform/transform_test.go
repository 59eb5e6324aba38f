package transform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShapes(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		text       string
		emotion    string
		display    string
		confidence float64
	}{
		{
			name:       "bare snake case",
			body:       `{"original_message":"야!","transformed_message":"확인 부탁드립니다.","emotion":"anger","confidence":0.87}`,
			text:       "확인 부탁드립니다.",
			emotion:    "anger",
			display:    "87%",
			confidence: 87,
		},
		{
			name:       "data envelope camel case",
			body:       `{"data":{"transformedMessage":"calm text","sentiment":"negative","confidence":"92%"}}`,
			text:       "calm text",
			emotion:    "negative",
			display:    "92%",
			confidence: 92,
		},
		{
			name:       "result envelope short key",
			body:       `{"result":{"transformed":"ok then","confidence":73}}`,
			text:       "ok then",
			display:    "73%",
			confidence: 73,
		},
		{
			name:       "string fraction",
			body:       `{"transformed_message":"x","confidence":"0.5"}`,
			text:       "x",
			display:    "50%",
			confidence: 50,
		},
		{
			name:       "out of range clamps",
			body:       `{"transformed_message":"x","confidence":250}`,
			text:       "x",
			display:    "100%",
			confidence: 100,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Parse([]byte(tc.body))
			require.NoError(t, err)
			require.Equal(t, tc.text, res.TransformedText)
			require.Equal(t, tc.emotion, res.Emotion)
			require.Equal(t, tc.display, res.ConfidenceRaw)
			require.NotNil(t, res.Confidence)
			require.InDelta(t, tc.confidence, *res.Confidence, 1e-9)
		})
	}
}

func TestParseUnparseableConfidenceKeepsRaw(t *testing.T) {
	res, err := Parse([]byte(`{"transformed_message":"x","confidence":"high"}`))
	require.NoError(t, err)
	require.Equal(t, "high", res.ConfidenceRaw)
	require.Nil(t, res.Confidence)
}

func TestParseEmptyTransformedText(t *testing.T) {
	_, err := Parse([]byte(`{"transformed_message":""}`))
	require.ErrorIs(t, err, ErrEmptyTransform)

	_, err = Parse([]byte(`{"data":{"emotion":"anger"}}`))
	require.ErrorIs(t, err, ErrEmptyTransform)
}

func TestHTTPTransformerPostsMessage(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/transform", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transformed_message":"배송 상황을 확인해 주실 수 있을까요?","emotion":"anger","confidence":0.9}`))
	}))
	t.Cleanup(srv.Close)

	tr := NewHTTPTransformer(srv.URL+"/", time.Second, srv.Client())
	res, err := tr.Transform(context.Background(), Request{OriginalMessage: "배송 왜이렇게 늦어요!!"})
	require.NoError(t, err)
	require.Equal(t, "배송 왜이렇게 늦어요!!", got.Message)
	require.Equal(t, "배송 왜이렇게 늦어요!!", res.OriginalText)
	require.Equal(t, "90%", res.ConfidenceRaw)
}

func TestHTTPTransformerUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	tr := NewHTTPTransformer(srv.URL, time.Second, srv.Client())
	_, err := tr.Transform(context.Background(), Request{Message: "hello"})
	var upErr *upstream.Error
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, http.StatusInternalServerError, upErr.Status)
}

func TestMockTransformerHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockTransformer().Transform(ctx, Request{Message: "hi"})
	require.ErrorIs(t, err, context.Canceled)
}
