package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Preset  string  `json:"preset"`
	Speed   float64 `json:"speed"`
}

// NewExecSynth runs a local command per request. The command receives the
// request as JSON on stdin and writes encoded audio to stdout.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:    req.Text,
		VoiceID: req.VoiceID,
		Preset:  string(req.Preset),
		Speed:   req.Speed,
	})
	if err != nil {
		return Audio{}, err
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return Audio{}, ctx.Err()
		}
		return Audio{}, fmt.Errorf("tts command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return Audio{}, fmt.Errorf("tts command produced no audio")
	}

	out := stdout.Bytes()
	contentType := http.DetectContentType(out)
	format := "mp3"
	switch {
	case strings.Contains(contentType, "wav"):
		format = "wav"
	case contentType == "application/octet-stream":
		contentType = "audio/mpeg"
	}
	return Audio{Data: out, ContentType: contentType, Format: format}, nil
}
