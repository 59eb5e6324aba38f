package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/toneshift/internal/bus"
	"github.com/loqalabs/toneshift/internal/config"
	"github.com/loqalabs/toneshift/internal/natsserver"
	"github.com/loqalabs/toneshift/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	ns, err := natsserver.StartForTest()
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)
	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	client := bus.NewFromConn(conn, testLogger())
	t.Cleanup(client.Close)
	return client
}

func nextTranscript(t *testing.T, sub *nats.Subscription) protocol.Transcript {
	t.Helper()
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var tr protocol.Transcript
	require.NoError(t, json.Unmarshal(msg.Data, &tr))
	return tr
}

func TestMockRecognizerReportsDuration(t *testing.T) {
	res, err := NewMockRecognizer().Transcribe(context.Background(), make([]byte, 32000), 16000, 1, true)
	require.NoError(t, err)
	require.Equal(t, "[final transcript 1.00s]", res.Text)

	_, err = NewMockRecognizer().Transcribe(context.Background(), nil, 0, 1, false)
	require.Error(t, err)
}

func TestNewRecognizerModes(t *testing.T) {
	_, err := NewRecognizer(config.STTConfig{Mode: "mock"})
	require.NoError(t, err)
	_, err = NewRecognizer(config.STTConfig{Mode: "exec"})
	require.Error(t, err, "exec without a command")
	_, err = NewRecognizer(config.STTConfig{Mode: "cloud"})
	require.Error(t, err)
}

func TestExecRecognizerArgs(t *testing.T) {
	r, err := NewExecRecognizer(config.STTConfig{Command: `whisper-cli --threads 2`, ModelPath: "/m.bin", Language: "ko"})
	require.NoError(t, err)
	args := r.(*execRecognizer).args("/tmp/a.wav", false)
	require.Equal(t, []string{"--threads", "2", "--audio", "/tmp/a.wav", "--model", "/m.bin", "--language", "ko", "--partial"}, args)
	require.NotContains(t, r.(*execRecognizer).args("/tmp/a.wav", true), "--partial")
}

func TestWriteWAV(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)
	defer f.Close()

	pcm := make([]byte, 16000*2/10)
	require.NoError(t, writeWAV(f, pcm, 16000, 1))
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	dur, err := dec.Duration()
	require.NoError(t, err)
	require.InDelta(t, float64(100*time.Millisecond), float64(dur), float64(2*time.Millisecond))

	require.NoError(t, dec.FwdToPCM())
	require.Equal(t, int64(len(pcm)), dec.PCMLen())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, len(pcm)/2)

	require.Error(t, writeWAV(f, []byte{1}, 16000, 1))
}

func TestServicePublishesTranscripts(t *testing.T) {
	client := startBus(t)
	partials, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptPartial)
	require.NoError(t, err)
	finals, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptFinal)
	require.NoError(t, err)

	cfg := config.STTConfig{Enabled: true, Mode: "mock", SampleRate: 16000, Channels: 1, PartialEveryMS: 10000, PublishInterim: true}
	svc := NewService(context.Background(), cfg, client, NewMockRecognizer(), testLogger())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	require.True(t, svc.Healthy())

	subject := protocol.SubjectAudioFramePrefix + ".mic1"
	require.NoError(t, client.PublishJSON(subject, protocol.AudioFrame{SessionID: "mic1", PCM: make([]byte, 16000)}))
	require.NoError(t, client.Conn().Flush())

	partial := nextTranscript(t, partials)
	require.True(t, partial.Partial)
	require.Equal(t, "mic1", partial.SessionID)
	require.Equal(t, "[partial transcript 0.50s]", partial.Text)

	require.NoError(t, client.PublishJSON(subject, protocol.AudioFrame{SessionID: "mic1", PCM: make([]byte, 16000), Final: true}))
	require.NoError(t, client.Conn().Flush())

	final := nextTranscript(t, finals)
	require.False(t, final.Partial)
	require.Equal(t, "[final transcript 1.00s]", final.Text)
}

func TestDisabledServiceIsHealthy(t *testing.T) {
	svc := NewService(context.Background(), config.STTConfig{}, nil, NewMockRecognizer(), testLogger())
	require.NoError(t, svc.Start())
	require.True(t, svc.Healthy())
	svc.Close()
}
