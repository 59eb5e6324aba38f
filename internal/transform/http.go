package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/toneshift/internal/upstream"
)

type httpTransformer struct {
	endpoint string
	client   *upstream.Client
}

type httpRequest struct {
	Message string `json:"message"`
}

// NewHTTPTransformer posts messages to {origin}/ai/transform.
func NewHTTPTransformer(origin string, timeout time.Duration, httpClient *http.Client) Transformer {
	return &httpTransformer{
		endpoint: strings.TrimSuffix(strings.TrimSpace(origin), "/") + "/ai/transform",
		client:   upstream.NewClient("transform", timeout, httpClient),
	}
}

func (t *httpTransformer) Transform(ctx context.Context, req Request) (Result, error) {
	message := PickMessage(req)
	if message == "" {
		return Result{}, fmt.Errorf("missing message")
	}
	body, err := json.Marshal(httpRequest{Message: message})
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(ctx, httpReq)
	if err != nil {
		return Result{}, err
	}
	if err := t.client.Expect2xx(resp); err != nil {
		return Result{}, err
	}

	res, err := Parse(resp.Body)
	if err != nil {
		return res, err
	}
	if res.OriginalText == "" {
		res.OriginalText = message
	}
	return res, nil
}

// PickMessage prefers Message and falls back to OriginalMessage.
func PickMessage(req Request) string {
	if m := strings.TrimSpace(req.Message); m != "" {
		return m
	}
	return strings.TrimSpace(req.OriginalMessage)
}
