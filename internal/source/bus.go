package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loqalabs/toneshift/internal/bus"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Bus waits for the next utterance published on a subject.
type Bus struct {
	sub *nats.Subscription
}

func NewBus(client *bus.Client, subject string) (*Bus, error) {
	sub, err := client.Conn().SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &Bus{sub: sub}, nil
}

// Next skips messages that do not decode to an utterance with text.
func (b *Bus) Next(ctx context.Context) (protocol.Utterance, error) {
	for {
		msg, err := b.sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return protocol.Utterance{}, ctx.Err()
			}
			return protocol.Utterance{}, fmt.Errorf("next utterance: %w", err)
		}
		var u protocol.Utterance
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			continue
		}
		if strings.TrimSpace(u.Text) != "" {
			return u, nil
		}
	}
}

func (b *Bus) Close() error {
	return b.sub.Unsubscribe()
}
