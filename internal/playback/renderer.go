package playback

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Renderer plays one clip to completion. rate is polled while playing so
// profile changes take effect on audio that is already running.
type Renderer interface {
	Render(ctx context.Context, clip *Clip, rate func() float64) error
}

type clockRenderer struct {
	tick time.Duration
}

// NewClockRenderer advances a virtual play head against the wall clock. It
// produces no sound and is what the daemon uses when the browser does the
// actual audio output.
func NewClockRenderer(tick time.Duration) Renderer {
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}
	return &clockRenderer{tick: tick}
}

func (r *clockRenderer) Render(ctx context.Context, clip *Clip, rate func() float64) error {
	total := clip.Duration()
	var position time.Duration
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	last := time.Now()
	for position < total {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case now := <-ticker.C:
			position += time.Duration(float64(now.Sub(last)) * rate())
			last = now
		}
	}
	return nil
}

type execRenderer struct {
	cmd []string
}

// NewExecRenderer plays through a local command. {file} and {rate} in the
// command line are substituted; without {file} the path is appended.
func NewExecRenderer(command string) (Renderer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}
	return &execRenderer{cmd: args}, nil
}

func (r *execRenderer) Render(ctx context.Context, clip *Clip, rate func() float64) error {
	data := clip.Bytes()
	if data == nil {
		return ErrReleased
	}
	ext := ".mp3"
	if strings.Contains(clip.ContentType, "wav") {
		ext = ".wav"
	}
	file, err := os.CreateTemp("", "toneshift_play_*"+ext)
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("write clip: %w", err)
	}
	file.Close()

	rateArg := strconv.FormatFloat(rate(), 'f', 2, 64)
	args := make([]string, 0, len(r.cmd)+1)
	sawFile := false
	for _, a := range r.cmd {
		if strings.Contains(a, "{file}") {
			sawFile = true
		}
		a = strings.ReplaceAll(a, "{file}", file.Name())
		a = strings.ReplaceAll(a, "{rate}", rateArg)
		args = append(args, a)
	}
	if !sawFile {
		args = append(args, file.Name())
	}

	command := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("playback command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
