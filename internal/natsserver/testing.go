package natsserver

import (
	"io"
	"log/slog"

	"github.com/nats-io/nats-server/v2/server"
)

// StartForTest runs a throwaway server on a random port without JetStream.
func StartForTest() (*EmbeddedServer, error) {
	return start(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoSigs: true, NoLog: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}
