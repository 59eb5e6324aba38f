// Package ingest feeds bus traffic into the console: live transcripts and
// externally produced customer utterances.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/toneshift/internal/bus"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/loqalabs/toneshift/internal/source"
	"github.com/nats-io/nats.go"
)

// Sink receives ingested input. *orchestrator.Console satisfies it.
type Sink interface {
	SetUtterance(protocol.Utterance)
	IngestTranscript(protocol.Transcript)
}

// Options selects what is ingested. An empty UtteranceSubject skips
// utterance ingestion, which is what a bus-backed utterance source needs.
type Options struct {
	Transcripts      bool
	UtteranceSubject string
}

type route struct {
	subject string
	handler nats.MsgHandler
}

type Service struct {
	opts   Options
	bus    *bus.Client
	sink   Sink
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewService(opts Options, busClient *bus.Client, sink Sink, logger *slog.Logger) *Service {
	return &Service{
		opts:   opts,
		bus:    busClient,
		sink:   sink,
		logger: logger.With(slog.String("component", "ingest")),
	}
}

func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	var routes []route
	if s.opts.Transcripts {
		routes = append(routes,
			route{protocol.SubjectTranscriptPartial, s.handleTranscript},
			route{protocol.SubjectTranscriptFinal, s.handleTranscript},
		)
	}
	if subject := strings.TrimSpace(s.opts.UtteranceSubject); subject != "" {
		routes = append(routes, route{subject, s.handleUtterance})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range routes {
		sub, err := s.bus.Conn().Subscribe(r.subject, r.handler)
		if err != nil {
			s.drainLocked()
			return fmt.Errorf("subscribe %s: %w", r.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
}

func (s *Service) drainLocked() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return s.bus == nil || s.bus.Healthy()
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var tr protocol.Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	// Partial/final is decided by the subject when the payload is ambiguous.
	tr.Partial = msg.Subject == protocol.SubjectTranscriptPartial
	s.sink.IngestTranscript(tr)
}

func (s *Service) handleUtterance(msg *nats.Msg) {
	u, err := source.ParseUtterance(msg.Data)
	if err != nil {
		if !errors.Is(err, source.ErrNoUtterance) {
			s.logger.Warn("failed to decode utterance", slogError(err))
		}
		return
	}
	s.sink.SetUtterance(u)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
