// Package realtime fans battle events out to connected clients. Delivery is
// best effort: slow subscribers drop events and are expected to resync.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/battle"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 16

// Hub keeps per-battle subscriptions within this process.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	buffer int
	logger logrus.FieldLogger
}

// NewHub returns an empty hub.
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		logger: logger,
	}
}

// Subscription is a handle on one battle's event stream. The owner must Close it
// when it stops reading.
type Subscription struct {
	hub      *Hub
	battleID uuid.UUID
	ch       chan battle.Event
	closed   bool
}

// Events is closed after Close.
func (s *Subscription) Events() <-chan battle.Event {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if set, ok := h.subs[s.battleID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.battleID)
		}
	}
	close(s.ch)
}

// Subscribe opens a subscription for one battle.
func (h *Hub) Subscribe(battleID uuid.UUID) *Subscription {
	s := &Subscription{hub: h, battleID: battleID, ch: make(chan battle.Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[battleID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[battleID] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish delivers ev to local subscribers of its battle without blocking.
func (h *Hub) Publish(_ context.Context, ev battle.Event) error {
	id := ev.BattleID()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[id] {
		select {
		case s.ch <- ev:
		default:
			h.logger.WithField("battle_id", id).Warn("subscriber queue full, dropping event")
		}
	}
	return nil
}

// Subscribers reports how many local subscriptions a battle has.
func (h *Hub) Subscribers(battleID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[battleID])
}
