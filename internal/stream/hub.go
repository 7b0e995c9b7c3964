// internal/stream/hub.go
package stream

import (
	"sync"
	"time"

	"github.com/nftbazaar/marketplace-backend/internal/models"
)

type EventType string

const (
	EventListed    EventType = "listed"
	EventSold      EventType = "sold"
	EventCancelled EventType = "cancelled"
)

// Event is one market occurrence pushed to stream subscribers.
type Event struct {
	Type       EventType      `json:"type"`
	Collection models.Address `json:"collection"`
	TokenID    uint64         `json:"token_id"`
	Seller     models.Address `json:"seller,omitempty"`
	Buyer      models.Address `json:"buyer,omitempty"`
	Price      uint64         `json:"price,omitempty"`
	Royalty    uint64         `json:"royalty,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type Subscription struct {
	ch chan Event
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Hub fans market events out to subscribers. Slow subscribers drop events
// rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(buffer int) *Subscription {
	sub := &Subscription{ch: make(chan Event, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
		}
	}
}
