package orchestrator

import "github.com/loqalabs/toneshift/internal/protocol"

const (
	EventUtterance     = "utterance"
	EventLoading       = "loading"
	EventCommitted     = "committed"
	EventDiscarded     = "discarded"
	EventFailed        = "error"
	EventPlaybackEnded = "playback_ended"
	EventLoopStarted   = "loop_started"
	EventLoopStopped   = "loop_stopped"
	EventStopped       = "stopped"
	EventProfile       = "profile"
	EventVoices        = "voices"
)

// Observer receives every console event. It runs on the emitting goroutine
// and must not block or call back into the console.
type Observer func(protocol.PipelineEvent)

// Subscribe registers o and returns a function that removes it.
func (c *Console) Subscribe(o Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Console) emit(evt protocol.PipelineEvent) {
	if evt.RunID == "" {
		evt.RunID = c.sessionID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = c.now().UTC()
	}
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, o := range c.observers {
		o(evt)
	}
}
