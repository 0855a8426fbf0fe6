package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	stderrors "errors"

	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/observability"
	"github.com/honeynil/upi-crypto-offramp/internal/models"
)

var (
	ErrClientClosed = stderrors.New("client closed")
	ErrClientSlow   = stderrors.New("client send buffer full")
)

// Subscriber is one connected real-time client. Send must not block.
type Subscriber interface {
	Send(msg []byte) error
}

// Hub keeps the set of connected clients and fans events out to them.
// A client whose Send fails is dropped; the rest still get the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Subscriber]struct{})}
}

func (h *Hub) Subscribe(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		return
	}
	h.subs[s] = struct{}{}
	observability.Subscribers.Inc()
	slog.Debug("real-time client subscribed", "subscribers", len(h.subs))
}

// Unsubscribe is safe to call more than once for the same client.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	observability.Subscribers.Dec()
	slog.Debug("real-time client unsubscribed", "subscribers", len(h.subs))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast serialises event once and sends it to every client connected
// right now.
func (h *Hub) Broadcast(ctx context.Context, event models.Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		observability.WithContext(ctx).Error("failed to marshal event", "method", "Broadcast", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var failed int
	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			failed++
			observability.BroadcastDeliveries.WithLabelValues("failed").Inc()
			h.Unsubscribe(s)
			continue
		}
		observability.BroadcastDeliveries.WithLabelValues("delivered").Inc()
	}

	observability.WithContext(ctx).Debug("event broadcast",
		"method", "Broadcast", "type", event.Type, "key", event.Key(),
		"clients", len(targets), "failed", failed)
}

// Publish lets the hub stand in as the event publisher on a single
// instance. Delivery problems never surface to the caller.
func (h *Hub) Publish(ctx context.Context, event models.Event) error {
	h.Broadcast(ctx, event)
	return nil
}
