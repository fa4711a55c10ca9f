// Package realtime pushes notifications and study session updates to
// WebSocket clients. Each connection owns a buffered send channel drained by
// its own write loop; fan-out never blocks and drops messages for clients
// that fall behind.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/negrahodzic/UniVerse-sub000/internal/application/eventhandler"
)

// DefaultSendBuffer is the per-connection queue length.
const DefaultSendBuffer = 32

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

// ErrHubClosed is returned by Serve after Close.
var ErrHubClosed = errors.New("realtime hub closed")

// Message is the frame sent to clients.
type Message struct {
	Type      string                 `json:"type"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	SentAt    time.Time              `json:"sentAt"`
}

// Topic selects what a connection listens to.
type Topic struct {
	// UserID receives personal notifications. Always set.
	UserID string

	// SessionID, when set, subscribes to one study session room instead of
	// the user's personal feed.
	SessionID string
}

// Client is one WebSocket connection.
type Client struct {
	ID    string
	Topic Topic
	Send  chan []byte
}

// ConnectionGauge tracks open connections.
type ConnectionGauge interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Hub routes messages to user feeds and session rooms.
type Hub struct {
	mu       sync.RWMutex
	users    map[string]map[*Client]struct{}
	sessions map[string]map[*Client]struct{}
	closed   bool

	buffer         int
	originPatterns []string
	gauge          ConnectionGauge
	now            func() time.Time
	logger         *slog.Logger
}

// HubConfig contains optional settings.
type HubConfig struct {
	SendBuffer int

	// OriginPatterns are passed to websocket.Accept. Empty allows same-origin only.
	OriginPatterns []string

	Gauge ConnectionGauge
}

// NewHub creates a Hub.
func NewHub(config HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultSendBuffer
	}
	return &Hub{
		users:          make(map[string]map[*Client]struct{}),
		sessions:       make(map[string]map[*Client]struct{}),
		buffer:         config.SendBuffer,
		originPatterns: config.OriginPatterns,
		gauge:          config.Gauge,
		now:            time.Now,
		logger:         logger.With("component", "realtime"),
	}
}

var (
	_ eventhandler.Notifier           = (*Hub)(nil)
	_ eventhandler.SessionBroadcaster = (*Hub)(nil)
)

// NewClient creates an unregistered client for topic.
func (h *Hub) NewClient(topic Topic) *Client {
	return &Client{ID: uuid.New().String(), Topic: topic, Send: make(chan []byte, h.buffer)}
}

// Register adds c to its room. It fails once the hub is closed.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	room, key := h.roomFor(c.Topic)
	if room[key] == nil {
		room[key] = make(map[*Client]struct{})
	}
	room[key][c] = struct{}{}
	if h.gauge != nil {
		h.gauge.ConnectionOpened()
	}
	return nil
}

// Unregister removes c and closes its send channel. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, key := h.roomFor(c.Topic)
	members, ok := room[key]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(room, key)
	}
	close(c.Send)
	if h.gauge != nil {
		h.gauge.ConnectionClosed()
	}
}

// roomFor must be called with the lock held.
func (h *Hub) roomFor(t Topic) (map[string]map[*Client]struct{}, string) {
	if t.SessionID != "" {
		return h.sessions, t.SessionID
	}
	return h.users, t.UserID
}

// Notify implements eventhandler.Notifier.
func (h *Hub) Notify(_ context.Context, userID string, n eventhandler.Notification) error {
	return h.deliver(h.users, userID, Message{
		Type:  string(n.Type),
		Title: n.Title,
		Body:  n.Body,
		Data:  n.Data,
	})
}

// BroadcastSession implements eventhandler.SessionBroadcaster.
func (h *Hub) BroadcastSession(_ context.Context, sessionID string, n eventhandler.Notification) error {
	return h.deliver(h.sessions, sessionID, Message{
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		SessionID: sessionID,
	})
}

func (h *Hub) deliver(room map[string]map[*Client]struct{}, key string, msg Message) error {
	msg.SentAt = h.now()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range room[key] {
		select {
		case c.Send <- data:
		default:
			h.logger.Debug("dropping message for slow client", "client_id", c.ID, "type", msg.Type)
		}
	}
	return nil
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, members := range h.users {
		n += len(members)
	}
	for _, members := range h.sessions {
		n += len(members)
	}
	return n
}

// Close unregisters every client, which ends their write loops.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Client
	for _, room := range []map[string]map[*Client]struct{}{h.users, h.sessions} {
		for _, members := range room {
			for c := range members {
				all = append(all, c)
			}
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.Unregister(c)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// Serve upgrades the request and streams messages for topic until the client
// disconnects, the request context ends or the hub closes. Incoming frames
// are discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, topic Topic) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	client := h.NewClient(topic)
	if err := h.Register(client); err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return err
	}
	defer h.Unregister(client)

	h.logger.Debug("client connected", "client_id", client.ID, "user_id", topic.UserID, "session_id", topic.SessionID)

	ctx := conn.CloseRead(r.Context())
	err = writeLoop(ctx, conn, client.Send)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	h.logger.Debug("client disconnected", "client_id", client.ID, "error", err)
	return nil
}

// writeLoop drains send into conn. It returns nil when send is closed.
func writeLoop(ctx context.Context, conn *websocket.Conn, send <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-send:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
