package source

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/toneshift/internal/protocol"
)

var cannedUtterances = []protocol.Utterance{
	{ID: "call-1001", Text: "패스트 캠퍼스 해커톤 재밋냐?"},
	{ID: "call-1002", Text: "응 재밌는거같은데 "},
	{ID: "call-1003", Text: "상담 연결이 몇 분째예요. 사람을 무시하는 건가요?"},
	{ID: "call-1004", Text: "어제도 똑같이 얘기했는데 왜 또 설명해야 하죠?"},
}

// Mock rotates through canned utterances, stamping each with the time it was
// produced.
type Mock struct {
	delay time.Duration
	now   func() time.Time

	mu   sync.Mutex
	next int
}

func NewMock(delay time.Duration) *Mock {
	return &Mock{delay: delay, now: time.Now}
}

func (m *Mock) Next(ctx context.Context) (protocol.Utterance, error) {
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return protocol.Utterance{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return protocol.Utterance{}, err
	}

	m.mu.Lock()
	u := cannedUtterances[m.next%len(cannedUtterances)]
	m.next++
	m.mu.Unlock()

	u.Timestamp = m.now().UTC().Format(time.RFC3339Nano)
	return u, nil
}
