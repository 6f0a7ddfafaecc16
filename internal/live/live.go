// Package live pushes newly stored transcriptions to WebSocket clients.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/store"
)

const (
	writeWait  = 5 * time.Second
	clientSend = 16 // events buffered per client before it counts as slow
)

// Event is one stored transcription as sent to clients.
type Event struct {
	ID              uint64    `json:"id"`
	Text            string    `json:"text"`
	Language        string    `json:"language,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	StoredAt        time.Time `json:"stored_at"`
}

// Inserter is the history write path the hub observes.
type Inserter interface {
	Insert(ctx context.Context, rec store.Record) (uint64, error)
}

// Hub fans events out to connected clients. Publishing never blocks: a
// client whose buffer is full misses the event.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Event, clientSend)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Live client connected")

	go h.writeLoop(c)

	// Reads only detect the peer closing; clients have nothing to say.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Live client disconnected")
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.unregister(c)
			// Drain so unregister's close ends the range
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish queues ev for every connected client.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn().Uint64("id", ev.ID).Msg("Live client too slow, event dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Wrap returns an Inserter that publishes every successful insert.
func (h *Hub) Wrap(next Inserter) Inserter {
	return &publisher{next: next, hub: h}
}

type publisher struct {
	next Inserter
	hub  *Hub
}

func (p *publisher) Insert(ctx context.Context, rec store.Record) (uint64, error) {
	id, err := p.next.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	p.hub.Publish(Event{
		ID:              id,
		Text:            rec.Text,
		Language:        rec.Language,
		DurationSeconds: rec.DurationSeconds,
		StoredAt:        time.Now().UTC(),
	})
	return id, nil
}
