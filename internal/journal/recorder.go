// Package journal fans console events out of the process: onto the bus for
// other consumers and into the event store as an audit timeline.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/toneshift/internal/eventstore"
	"github.com/loqalabs/toneshift/internal/protocol"
)

const recorderBuffer = 256

// Store is the part of the event store the recorder writes to.
type Store interface {
	AppendRun(ctx context.Context, runID, kind, privacy string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Recorder persists console events off the emitting goroutine. Events that
// arrive while the buffer is full are dropped and counted.
type Recorder struct {
	store     Store
	sessionID string
	privacy   string
	logger    *slog.Logger

	events  chan protocol.PipelineEvent
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	runs   map[string]bool
}

func NewRecorder(parent context.Context, store Store, sessionID, privacy string, logger *slog.Logger) *Recorder {
	ctx, cancel := context.WithCancel(parent)
	r := &Recorder{
		store:     store,
		sessionID: sessionID,
		privacy:   privacy,
		logger:    logger.With(slog.String("component", "journal")),
		events:    make(chan protocol.PipelineEvent, recorderBuffer),
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]bool),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Observe queues evt. It never blocks.
func (r *Recorder) Observe(evt protocol.PipelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- evt:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded on overflow.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close flushes queued events and stops the writer.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	r.wg.Wait()
	r.cancel()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for evt := range r.events {
		if err := r.write(evt); err != nil {
			r.logger.Warn("failed to record event", slog.String("type", evt.Type), slogError(err))
		}
	}
}

func (r *Recorder) write(evt protocol.PipelineEvent) error {
	ctx := r.ctx
	if !r.runs[evt.RunID] {
		kind := "loop"
		if evt.RunID == r.sessionID {
			kind = "session"
		}
		if err := r.store.AppendRun(ctx, evt.RunID, kind, r.privacy); err != nil {
			return err
		}
		r.runs[evt.RunID] = true
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.store.AppendEvent(ctx, eventstore.Event{
		RunID:      evt.RunID,
		Pipeline:   evt.Pipeline,
		Generation: evt.Generation,
		Type:       evt.Type,
		Payload:    payload,
		Privacy:    r.privacy,
		CreatedAt:  evt.Timestamp,
	})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
