// Package playback owns synthesized audio once it leaves the synthesizer:
// clips with an explicit release, and one deck per pipeline that plays them.
package playback

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// Clip is an exclusively owned audio buffer. Release drops the buffer and
// runs the release hook exactly once.
type Clip struct {
	ID          string
	ContentType string
	Format      string

	mu        sync.Mutex
	data      []byte
	released  bool
	onRelease func(*Clip)
	duration  time.Duration
}

func NewClip(data []byte, contentType, format string) *Clip {
	c := &Clip{
		ID:          uuid.NewString(),
		ContentType: contentType,
		Format:      format,
		data:        data,
	}
	c.duration = estimateDuration(data, contentType, format)
	return c
}

// OnRelease registers fn to run when the clip is released.
func (c *Clip) OnRelease(fn func(*Clip)) *Clip {
	c.mu.Lock()
	c.onRelease = fn
	c.mu.Unlock()
	return c
}

// Release frees the buffer. It reports whether this call did the release.
func (c *Clip) Release() bool {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return false
	}
	c.released = true
	c.data = nil
	fn := c.onRelease
	c.mu.Unlock()
	if fn != nil {
		fn(c)
	}
	return true
}

func (c *Clip) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Bytes returns the audio, or nil once released.
func (c *Clip) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Duration is the playback length at rate 1.
func (c *Clip) Duration() time.Duration { return c.duration }

const defaultBitrate = 128_000

// estimateDuration reads WAV headers when present and otherwise derives the
// length from the provider output format (codec_samplerate[_bitrate]).
func estimateDuration(data []byte, contentType, format string) time.Duration {
	if len(data) == 0 {
		return 0
	}
	if strings.Contains(contentType, "wav") || strings.HasPrefix(format, "wav") {
		dec := wav.NewDecoder(bytes.NewReader(data))
		if dec.IsValidFile() {
			if d, err := dec.Duration(); err == nil {
				return d
			}
		}
	}

	parts := strings.Split(format, "_")
	bytesPerSecond := float64(defaultBitrate) / 8
	switch parts[0] {
	case "mp3", "opus":
		if len(parts) >= 3 {
			if kbps, err := strconv.Atoi(parts[2]); err == nil && kbps > 0 {
				bytesPerSecond = float64(kbps*1000) / 8
			}
		}
	case "pcm":
		if len(parts) >= 2 {
			if rate, err := strconv.Atoi(parts[1]); err == nil && rate > 0 {
				bytesPerSecond = float64(rate * 2)
			}
		}
	case "ulaw", "alaw":
		if len(parts) >= 2 {
			if rate, err := strconv.Atoi(parts[1]); err == nil && rate > 0 {
				bytesPerSecond = float64(rate)
			}
		}
	}
	return time.Duration(float64(len(data)) / bytesPerSecond * float64(time.Second))
}
