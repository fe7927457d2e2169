package gateway

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	v1 "bestiary/shared/contracts/wire/v1"
)

// Hub fans event envelopes out to subscribed connections.
//
// Concurrency guarantees:
//   - Subscribe/Unsubscribe are safe under concurrent Publish.
//   - Publish never blocks; a full member queue drops the envelope for
//     that member only.
//   - Publish is panic-safe because Client.Send is never closed by the
//     server.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	members map[string]*Client

	// broadcasts counts by event name; subscribed tracks membership.
	// Both may be nil.
	broadcasts *prometheus.CounterVec
	subscribed prometheus.Gauge
}

// NewHub constructs a Hub. Metrics may be nil.
func NewHub(log *slog.Logger, broadcasts *prometheus.CounterVec, subscribed prometheus.Gauge) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		members:    make(map[string]*Client),
		broadcasts: broadcasts,
		subscribed: subscribed,
	}
}

// Subscribe adds a connection to the broadcast set. Idempotent per id.
func (h *Hub) Subscribe(c *Client) {
	if h == nil || c == nil || c.ID == "" {
		return
	}

	h.mu.Lock()
	_, existed := h.members[c.ID]
	h.members[c.ID] = c
	n := len(h.members)
	h.mu.Unlock()

	if !existed && h.subscribed != nil {
		h.subscribed.Set(float64(n))
	}
	h.log.Info("hub.subscribe", "conn_id", c.ID, "subscribed", n)
}

// Unsubscribe removes a connection from the broadcast set. The
// connection itself stays up.
func (h *Hub) Unsubscribe(id string) {
	if h == nil || id == "" {
		return
	}

	h.mu.Lock()
	_, existed := h.members[id]
	delete(h.members, id)
	n := len(h.members)
	h.mu.Unlock()

	if existed && h.subscribed != nil {
		h.subscribed.Set(float64(n))
	}
	h.log.Info("hub.unsubscribe", "conn_id", id, "subscribed", n)
}

// Publish fans an envelope out to every subscribed connection.
// Non-blocking: members that are shutting down or backlogged are
// skipped.
func (h *Hub) Publish(env v1.Envelope) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole fanout.
		}
	}

	if h.broadcasts != nil {
		h.broadcasts.WithLabelValues(env.Name).Inc()
	}
}

// Count reports the subscribed connection count.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}
