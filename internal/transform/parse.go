package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Supported response shapes. The gateway has answered with all of these at
// some point; the list is closed on purpose.
//
//	{"transformed_message": "...", ...}
//	{"data":   {"transformed_message": "...", ...}}
//	{"result": {"transformedMessage": "...", ...}}
var (
	envelopeKeys    = []string{"data", "result"}
	transformedKeys = []string{"transformed_message", "transformedMessage", "transformed"}
	originalKeys    = []string{"original_message", "originalMessage", "original"}
	emotionKeys     = []string{"emotion", "sentiment", "emotion_label", "label"}
	confidenceKeys  = []string{"confidence", "confidence_score", "score"}
)

// Parse normalizes a gateway response body into a Result. An empty
// transformed text yields ErrEmptyTransform.
func Parse(body []byte) (Result, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return Result{}, fmt.Errorf("decode transform response: %w", err)
	}
	obj := unwrap(root)

	res := Result{
		TransformedText: strings.TrimSpace(firstString(obj, transformedKeys)),
		OriginalText:    strings.TrimSpace(firstString(obj, originalKeys)),
		Emotion:         strings.TrimSpace(firstString(obj, emotionKeys)),
	}
	if raw, ok := first(obj, confidenceKeys); ok {
		res.ConfidenceRaw, res.Confidence = normalizeConfidence(raw)
	}
	if res.TransformedText == "" {
		return res, ErrEmptyTransform
	}
	return res, nil
}

func unwrap(root map[string]any) map[string]any {
	for _, key := range envelopeKeys {
		if inner, ok := root[key].(map[string]any); ok {
			if _, has := first(inner, transformedKeys); has {
				return inner
			}
		}
	}
	return root
}

func first(obj map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func firstString(obj map[string]any, keys []string) string {
	v, ok := first(obj, keys)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// normalizeConfidence maps a number in [0,1] or [0,100], or a string with an
// optional % suffix, onto [0,100]. The display string is "NN%"; when the input
// is an unparseable string it is returned untouched with no numeric value.
func normalizeConfidence(raw any) (string, *float64) {
	var value float64
	switch t := raw.(type) {
	case float64:
		value = scale(t)
	case string:
		s := strings.TrimSpace(t)
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return strings.TrimSpace(t), nil
		}
		if percent {
			value = parsed
		} else {
			value = scale(parsed)
		}
	default:
		return "", nil
	}
	value = math.Min(100, math.Max(0, value))
	return fmt.Sprintf("%d%%", int(math.Round(value))), &value
}

func scale(v float64) float64 {
	if v <= 1 {
		return v * 100
	}
	return v
}
