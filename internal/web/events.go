package web

import (
	"sync"
	"time"
)

type Event struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	TS    time.Time `json:"ts"`
}

// EventHub fans events out to SSE subscribers. Slow subscribers drop
// events rather than block the publisher.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int]chan Event)}
}

func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]chan Event)
	}
	id := h.nextID
	h.nextID++
	ch := make(chan Event, 16)
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *EventHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
