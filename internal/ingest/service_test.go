package ingest

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/toneshift/internal/bus"
	"github.com/loqalabs/toneshift/internal/natsserver"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu          sync.Mutex
	utterances  []protocol.Utterance
	transcripts []protocol.Transcript
}

func (r *recordingSink) SetUtterance(u protocol.Utterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, u)
}

func (r *recordingSink) IngestTranscript(t protocol.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, t)
}

func (r *recordingSink) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.utterances), len(r.transcripts)
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	ns, err := natsserver.StartForTest()
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)
	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	client := bus.NewFromConn(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(client.Close)
	return client
}

func TestIngestRoutesBusTraffic(t *testing.T) {
	client := startBus(t)
	sink := &recordingSink{}
	svc := NewService(Options{Transcripts: true, UtteranceSubject: protocol.SubjectUtterance}, client, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	require.True(t, svc.Healthy())

	require.NoError(t, client.PublishJSON(protocol.SubjectTranscriptPartial, protocol.Transcript{SessionID: "s", Text: "배송이"}))
	require.NoError(t, client.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: "s", Text: "배송이 왜 이렇게 늦어요", Partial: true}))
	require.NoError(t, client.Conn().Publish(protocol.SubjectUtterance, []byte(`{"data":{"message":"환불해 주세요","id":"c9","ts":"t1"}}`)))
	require.NoError(t, client.Conn().Publish(protocol.SubjectUtterance, []byte(`{"text":""}`)))
	require.NoError(t, client.Conn().Publish(protocol.SubjectTranscriptFinal, []byte(`not json`)))
	require.NoError(t, client.Conn().Flush())

	require.Eventually(t, func() bool {
		u, tr := sink.counts()
		return u == 1 && tr == 2
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, protocol.Utterance{Text: "환불해 주세요", ID: "c9", Timestamp: "t1"}, sink.utterances[0])

	byText := map[string]bool{}
	for _, tr := range sink.transcripts {
		byText[tr.Text] = tr.Partial
	}
	require.True(t, byText["배송이"])
	require.False(t, byText["배송이 왜 이렇게 늦어요"], "the final subject wins over the payload flag")
}

func TestIngestWithoutUtteranceSubject(t *testing.T) {
	client := startBus(t)
	sink := &recordingSink{}
	svc := NewService(Options{Transcripts: true}, client, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)

	require.NoError(t, client.PublishJSON(protocol.SubjectUtterance, protocol.Utterance{Text: "무시됨"}))
	require.NoError(t, client.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{Text: "들림"}))
	require.NoError(t, client.Conn().Flush())

	require.Eventually(t, func() bool {
		_, tr := sink.counts()
		return tr == 1
	}, 2*time.Second, 10*time.Millisecond)
	u, _ := sink.counts()
	require.Zero(t, u)
}
