package journal

import (
	"log/slog"
	"strings"

	"github.com/loqalabs/toneshift/internal/protocol"
)

// JSONPublisher is satisfied by *bus.Client.
type JSONPublisher interface {
	PublishJSON(subject string, v any) error
}

// Publisher mirrors console events onto the bus under
// toneshift.pipeline.<pipeline>.<type>; events without a pipeline use
// "console".
type Publisher struct {
	bus    JSONPublisher
	logger *slog.Logger
}

func NewPublisher(bus JSONPublisher, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger.With(slog.String("component", "journal"))}
}

func (p *Publisher) Observe(evt protocol.PipelineEvent) {
	if err := p.bus.PublishJSON(Subject(evt), evt); err != nil {
		p.logger.Warn("failed to publish pipeline event", slog.String("type", evt.Type), slogError(err))
	}
}

// Subject returns the bus subject for evt.
func Subject(evt protocol.PipelineEvent) string {
	pipeline := strings.TrimSpace(evt.Pipeline)
	if pipeline == "" {
		pipeline = "console"
	}
	return protocol.SubjectPipelinePrefix + "." + pipeline + "." + evt.Type
}
