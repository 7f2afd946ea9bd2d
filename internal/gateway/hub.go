// Package gateway frames encounter commands and events over WebSocket and
// serves the small HTTP API around them.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thinhdabezt/hexbound-vtt/internal/game/encounter"
)

// ErrSendBufferFull is reported for a client that could not keep up. The
// client is disconnected.
var ErrSendBufferFull = errors.New("send buffer full")

// client is one WebSocket connection joined to an encounter.
type client struct {
	id          string
	encounterID string
	caller      encounter.Caller
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
}

func newClient(id, encounterID string, caller encounter.Caller, conn *websocket.Conn, buffer int) *client {
	return &client{
		id:          id,
		encounterID: encounterID,
		caller:      caller,
		conn:        conn,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// enqueue queues frame without blocking.
//
// Postcondition: Returns false if the client is closed or its queue is full.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close tears the connection down. Safe to call multiple times.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Hub fans events out to every client of an encounter. It implements
// encounter.Notifier.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*client]struct{}
	logger *zap.Logger
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{}), logger: logger}
}

var _ encounter.Notifier = (*Hub)(nil)

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.encounterID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.encounterID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.encounterID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.encounterID)
	}
}

// Clients returns the number of connections joined to encounterID.
func (h *Hub) Clients(encounterID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[encounterID])
}

// Broadcast encodes events once and queues them on every client of
// encounterID. Clients whose queue overflows are disconnected and reported
// in the returned error; delivery to the others is unaffected.
func (h *Hub) Broadcast(encounterID string, events ...encounter.Event) error {
	frames := make([][]byte, 0, len(events))
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", ev.Type, err)
		}
		frames = append(frames, b)
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[encounterID]))
	for c := range h.rooms[encounterID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range targets {
		for _, f := range frames {
			if !c.enqueue(f) {
				errs = append(errs, fmt.Errorf("client %s: %w", c.id, ErrSendBufferFull))
				h.logger.Warn("dropping slow client",
					zap.String("client", c.id),
					zap.String("encounter", encounterID),
				)
				h.unregister(c)
				c.close()
				break
			}
		}
	}
	return errors.Join(errs...)
}

// reply queues events for a single client.
func (h *Hub) reply(c *client, events ...encounter.Event) {
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("encoding reply", zap.String("type", ev.Type), zap.Error(err))
			continue
		}
		if !c.enqueue(b) {
			h.logger.Warn("reply dropped", zap.String("client", c.id), zap.String("type", ev.Type))
			return
		}
	}
}
