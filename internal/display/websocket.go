package display

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/lingoxa/internal/bus"
	"github.com/MrWong99/lingoxa/internal/observe"
)

const (
	defaultClientBuffer = 64
	defaultWriteTimeout = 5 * time.Second

	// EventHello is sent to every client right after it connects.
	EventHello = "display.hello"
)

// Hello is the payload of [EventHello].
type Hello struct {
	ClientID string `json:"client_id"`
	State    any    `json:"state,omitempty"`
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithTopics restricts the forwarded events. Defaults to [DefaultTopics].
func WithTopics(topics ...string) HubOption {
	return func(h *Hub) { h.topics = topicSet(topics) }
}

// WithClientBuffer sets how many messages may queue per client before new
// ones are dropped for that client.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin front ends (see
// [websocket.AcceptOptions.OriginPatterns]).
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithSnapshot sets a function whose result is included in the hello
// message, so late joiners see the current state.
func WithSnapshot(fn func() any) HubOption {
	return func(h *Hub) { h.snapshot = fn }
}

// WithHubMetrics sets the metrics used to track connected clients.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

type client struct {
	id   string
	send chan []byte
}

// Hub fans bus events out to WebSocket clients. It implements
// [http.Handler]; mount it on the events route.
//
// All methods are safe for concurrent use.
type Hub struct {
	topics   map[string]bool
	buffer   int
	origins  []string
	snapshot func() any
	metrics  *observe.Metrics

	mu      sync.Mutex
	clients map[string]*client
	done    chan struct{}
	closed  bool
}

var _ http.Handler = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:  topicSet(nil),
		buffer:  defaultClientBuffer,
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Attach forwards every matching event on b to the connected clients.
func (h *Hub) Attach(b *bus.Bus) (detach func()) {
	return b.SubscribeAll(h.handle)
}

func (h *Hub) handle(e bus.Event) {
	if !h.topics[e.Topic] {
		return
	}
	data, err := Encode(e)
	if err != nil {
		slog.Warn("display: dropping event", "topic", e.Topic, "err", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast queues data for every client. Clients whose queue is full miss
// the message.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Debug("display: client queue full, dropping message", "client", c.id)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("display: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c, ok := h.register()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(c)

	log := slog.With("client", c.id, "remote", r.RemoteAddr)
	log.Info("display: client connected")

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	hello := Hello{ClientID: c.id}
	if h.snapshot != nil {
		hello.State = h.snapshot()
	}
	data, err := Encode(bus.Event{Topic: EventHello, Payload: hello, Time: time.Now()})
	if err == nil {
		err = write(ctx, conn, data)
	}
	if err != nil {
		log.Warn("display: hello failed", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("display: client disconnected")
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case msg := <-c.send:
			if err := write(ctx, conn, msg); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("display: write failed", "err", err)
				}
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) register() (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{id: uuid.NewString(), send: make(chan []byte, h.buffer)}
	h.clients[c.id] = c
	h.metrics.DisplayClients.Add(context.Background(), 1)
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
	h.metrics.DisplayClients.Add(context.Background(), -1)
}
