// Package stream fans out live board updates to connected websocket clients.
// Subscriptions are scoped to a tenant so one customer's pipeline activity
// never reaches another's browser.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

type Event struct {
	Type   string          `json:"type"`
	Tenant string          `json:"tenant"`
	At     string          `json:"at"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType, tenant string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{Type: eventType, Tenant: tenant, At: time.Now().UTC().Format(time.RFC3339Nano), Data: raw}
}

type subscriber struct {
	tenant string
	ch     chan Event
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]*subscriber{}}
}

// Subscribe registers a tenant-scoped channel. Slow consumers drop events
// rather than block publishers.
func (h *Hub) Subscribe(tenant string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = &subscriber{tenant: tenant, ch: ch}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

// Publish delivers an event to every subscriber of the event's tenant.
// Subscribers registered with an empty tenant are cross-tenant admin feeds
// and receive everything.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.tenant != "" && sub.tenant != evt.Tenant {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribers reports the live subscription count for a tenant.
func (h *Hub) Subscribers(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subs {
		if sub.tenant == tenant {
			n++
		}
	}
	return n
}
