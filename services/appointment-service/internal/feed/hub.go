// Package feed is the in-process change feed. Stores publish every committed
// appointment and notification write; dashboards subscribe with a filter.
package feed

import (
	"sync"

	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
)

const defaultBuffer = 64

type Filter func(model.Change) bool

// Hub fans changes out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full loses the change and is told to resync.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]*Subscription{}}
}

type Subscription struct {
	id     uint64
	hub    *Hub
	filter Filter
	events chan model.Change
	resync chan struct{}
	once   sync.Once
	closed chan struct{}
}

// Subscribe registers a listener. Callers must Close it.
func (h *Hub) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{
		id:     h.nextID,
		hub:    h,
		filter: filter,
		events: make(chan model.Change, buffer),
		resync: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	h.subs[s.id] = s
	return s
}

func (h *Hub) Publish(c model.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(c) {
			continue
		}
		select {
		case s.events <- c:
		default:
			select {
			case s.resync <- struct{}{}:
			default:
			}
		}
	}
}

// Len is the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscription) Events() <-chan model.Change { return s.events }

// Resync fires after at least one change was dropped for this subscriber.
func (s *Subscription) Resync() <-chan struct{} { return s.resync }

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.closed }

// Close deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.closed)
	})
}
