package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/toneshift/internal/orchestrator"
	"github.com/loqalabs/toneshift/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// StreamMessage is one frame on the console event stream: the event that
// happened (absent on the first frame) and the state right after it.
type StreamMessage struct {
	Event *protocol.PipelineEvent `json:"event,omitempty"`
	State orchestrator.Snapshot   `json:"state"`
}

// Hub pushes console events to websocket clients. A client that cannot keep
// up is disconnected.
type Hub struct {
	console  *orchestrator.Console
	logger   *slog.Logger
	upgrader websocket.Upgrader
	cancel   func()

	mu      sync.Mutex
	closed  bool
	clients map[*streamClient]struct{}
	wg      sync.WaitGroup
}

type streamClient struct {
	conn *websocket.Conn
	send chan protocol.PipelineEvent
	done chan struct{}
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

func NewHub(console *orchestrator.Console, logger *slog.Logger) *Hub {
	h := &Hub{
		console: console,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
	h.cancel = console.Subscribe(h.broadcast)
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	client := &streamClient{
		conn: conn,
		send: make(chan protocol.PipelineEvent, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

// broadcast runs on the console's emitting goroutine and never blocks.
func (h *Hub) broadcast(evt protocol.PipelineEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			c.close()
		}
	}
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) writePump(c *streamClient) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
		_ = c.conn.Close()
	}()

	if err := h.write(c, StreamMessage{State: h.console.Snapshot()}); err != nil {
		return
	}
	for {
		select {
		case evt := <-c.send:
			if err := h.write(c, StreamMessage{Event: &evt, State: h.console.Snapshot()}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Hub) write(c *streamClient, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump only services control frames; clients send nothing.
func (h *Hub) readPump(c *streamClient) {
	defer h.wg.Done()
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", slogError(err))
			}
			return
		}
	}
}
