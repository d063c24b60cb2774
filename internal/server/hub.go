package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/observe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
)

const (
	// defaultClientBuffer is the number of events queued per client before
	// further events are dropped for that client.
	defaultClientBuffer = 64

	writeTimeout = 5 * time.Second
)

// Hub fans pipeline events out to WebSocket clients. It implements
// [pipeline.Sink]; Publish never blocks on a slow client.
type Hub struct {
	origins []string
	buffer  int
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	send    chan pipeline.Event
	done    chan struct{}
	once    sync.Once
	dropped int
}

func (c *client) close() { c.once.Do(func() { close(c.done) }) }

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithOriginPatterns sets the accepted Origin host patterns. Default: same
// origin only.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithClientBuffer sets the per-client event buffer.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubMetrics records the number of connected clients.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buffer:  defaultClientBuffer,
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish queues ev for every connected client.
func (h *Hub) Publish(ev pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			c.dropped++
			if c.dropped == 1 || c.dropped%100 == 0 {
				slog.Warn("event client too slow, dropping events", "dropped", c.dropped, "type", ev.Type)
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
}

// Serve upgrades the request and streams events until the client leaves,
// the request context ends, or the hub closes. The greeting events are sent
// first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, greeting ...pipeline.Event) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{
		send: make(chan pipeline.Event, h.buffer),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	log := observe.Logger(r.Context())
	log.Info("event client connected", "remote", r.RemoteAddr)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for _, ev := range greeting {
		if err := write(ctx, conn, ev); err != nil {
			log.Debug("event client write failed", "err", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("event client disconnected", "remote", r.RemoteAddr)
			return
		case <-c.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-c.send:
			if err := write(ctx, conn, ev); err != nil {
				log.Debug("event client write failed", "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev pipeline.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.EventSubscribers.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.EventSubscribers.Add(context.Background(), -1)
	}
}

var _ pipeline.Sink = (*Hub)(nil)
