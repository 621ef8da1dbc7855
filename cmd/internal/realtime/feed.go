// Package realtime streams letter lifecycle events to connected users over
// WebSocket. Delivery is best-effort: events are dropped for slow or absent
// consumers and never block the transition that produced them.
package realtime

import (
	"log/slog"
	"sync"

	"openon/cmd/internal/letter"

	"github.com/oklog/ulid/v2"
)

const defaultSendQueueSize = 64

// Envelope is the wire frame pushed to clients.
type Envelope struct {
	ID    string       `json:"id"`
	Event letter.Event `json:"event"`
}

// Client represents one connected websocket session for a user.
//
// Send is never closed by the feed; done signals shutdown instead, which
// keeps concurrent publishers panic-free.
type Client struct {
	UserID string
	Send   chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		UserID: userID,
		Send:   make(chan Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Feed fans letter events out to each user's connected clients. It
// implements letter.EventSink.
type Feed struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewFeed constructs a Feed.
func NewFeed(log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		log:     log,
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Attach registers a client for its user.
func (f *Feed) Attach(c *Client) {
	if f == nil || c == nil || c.UserID == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		f.clients[c.UserID] = set
	}
	set[c] = struct{}{}
}

// Detach removes a client and signals it to stop.
func (f *Feed) Detach(c *Client) {
	if f == nil || c == nil {
		return
	}
	f.mu.Lock()
	if set, ok := f.clients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(f.clients, c.UserID)
		}
	}
	f.mu.Unlock()
	c.Close()
}

// Publish delivers an event to every client of the given user. Slow clients
// are skipped; an event for a user with no connections is silently dropped.
func (f *Feed) Publish(userID string, ev letter.Event) {
	if f == nil || userID == "" {
		return
	}
	env := Envelope{ID: ulid.Make().String(), Event: ev}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients[userID] {
		select {
		case c.Send <- env:
		case <-c.Done():
		default:
			f.log.Info("realtime.drop", "user_id", userID, "event", ev.Type)
		}
	}
}

// ConnectedUsers reports how many users currently hold at least one
// connection. Used by tests and the readiness probe.
func (f *Feed) ConnectedUsers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

var _ letter.EventSink = (*Feed)(nil)
