package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/upstream"
)

// HTTP pulls utterances from the generator endpoint of the transform
// backend.
type HTTP struct {
	endpoint string
	client   *upstream.Client
	now      func() time.Time
}

func NewHTTP(origin, path string, timeout time.Duration, httpClient *http.Client) *HTTP {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &HTTP{
		endpoint: strings.TrimSuffix(strings.TrimSpace(origin), "/") + path,
		client:   upstream.NewClient("source", timeout, httpClient),
		now:      time.Now,
	}
}

func (h *HTTP) Next(ctx context.Context) (protocol.Utterance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return protocol.Utterance{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(ctx, req)
	if err != nil {
		return protocol.Utterance{}, err
	}
	if err := h.client.Expect2xx(resp); err != nil {
		return protocol.Utterance{}, err
	}
	u, err := ParseUtterance(resp.Body)
	if err != nil {
		return protocol.Utterance{}, err
	}
	if u.Timestamp == "" {
		u.Timestamp = h.now().UTC().Format(time.RFC3339Nano)
	}
	return u, nil
}

// ParseUtterance accepts a JSON object carrying text|message|utterance
// (optionally under data), with optional id and ts, or a bare JSON string.
func ParseUtterance(body []byte) (protocol.Utterance, error) {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return protocol.Utterance{}, ErrNoUtterance
		}
		return protocol.Utterance{Text: s}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return protocol.Utterance{}, fmt.Errorf("decode utterance: %w", err)
	}
	if inner, ok := obj["data"].(map[string]any); ok {
		obj = inner
	}
	u := protocol.Utterance{
		Text:      pick(obj, "text", "message", "utterance"),
		ID:        pick(obj, "id", "callId", "call_id"),
		Timestamp: pick(obj, "ts", "timestamp"),
	}
	if strings.TrimSpace(u.Text) == "" {
		return protocol.Utterance{}, ErrNoUtterance
	}
	return u, nil
}

func pick(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprint(v)
		}
	}
	return ""
}
