package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/toneshift/internal/bus"
	"github.com/loqalabs/toneshift/internal/config"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/nats-io/nats.go"
)

const transcribeTimeout = 45 * time.Second

// Service buffers audio frames per capture session and publishes partial and
// final transcripts back on the bus.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sub    *nats.Subscription
	ready  atomic.Bool

	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

type session struct {
	buffer       []byte
	sampleRate   int
	channels     int
	lastPartial  time.Time
	inflight     bool
	pendingFinal bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "stt")),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*session),
		now:        time.Now,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	s.logger.Info("stt service started", slog.String("mode", s.cfg.Mode))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}
	id := strings.TrimSpace(frame.SessionID)
	if id == "" {
		id = strings.TrimPrefix(msg.Subject, protocol.SubjectAudioFramePrefix+".")
	}

	s.mu.Lock()
	state := s.sessions[id]
	if state == nil {
		state = &session{sampleRate: s.cfg.SampleRate, channels: s.cfg.Channels}
		s.sessions[id] = state
	}
	if frame.SampleRate > 0 {
		state.sampleRate = frame.SampleRate
	}
	if frame.Channels > 0 {
		state.channels = frame.Channels
	}
	state.buffer = append(state.buffer, frame.PCM...)
	partial := !frame.Final && s.cfg.PublishInterim && s.partialDueLocked(state)
	s.mu.Unlock()

	switch {
	case frame.Final:
		s.schedule(id, true)
	case partial:
		s.schedule(id, false)
	}
}

func (s *Service) partialDueLocked(state *session) bool {
	if state.inflight {
		return false
	}
	now := s.now()
	if state.lastPartial.IsZero() {
		state.lastPartial = now
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 || now.Sub(state.lastPartial) < interval {
		return false
	}
	state.lastPartial = now
	return true
}

// schedule runs one recognizer pass over a snapshot of the session buffer. A
// final arriving while a partial is in flight is queued behind it.
func (s *Service) schedule(id string, final bool) {
	s.mu.Lock()
	state := s.sessions[id]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.inflight {
		if final {
			state.pendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.buffer...)
	rate, channels := state.sampleRate, state.channels
	state.inflight = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, transcribeTimeout)
		defer cancel()

		res, err := s.recognizer.Transcribe(ctx, pcm, rate, channels, final)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("stt transcription failed", slog.String("session_id", id), slogError(err))
			}
		} else {
			s.publish(id, res, final)
		}

		s.mu.Lock()
		var pendingFinal bool
		if state := s.sessions[id]; state != nil {
			state.inflight = false
			pendingFinal = state.pendingFinal && !final
			if final {
				delete(s.sessions, id)
			} else {
				state.lastPartial = s.now()
			}
		}
		s.mu.Unlock()

		if pendingFinal {
			s.schedule(id, true)
		}
	}()
}

func (s *Service) publish(id string, res Result, final bool) {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID:  id,
		Text:       text,
		Partial:    !final,
		Timestamp:  s.now().UTC(),
		Confidence: res.Confidence,
	}
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
