// Package hub fans accepted placements out to every connected session and
// delivers per-session notices.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"pixelgrid/internal/websocket"
	"pixelgrid/pkg/interfaces"
)

// Hub implements interfaces.Broadcaster over the session registry.
// Published events are queued and delivered by a single goroutine, so they
// reach every session in the order Publish was called. Publish and Unicast
// never block: a full hub queue drops the event, and each session's own
// queue drops its oldest frame.
type Hub struct {
	registry *websocket.Registry
	events   chan json.RawMessage
	done     chan struct{}

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64

	log *logrus.Entry
}

// Stats are hub counters since start.
type Stats struct {
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	Delivered   int64 `json:"delivered"`
	Subscribers int   `json:"subscribers"`
}

var _ interfaces.Broadcaster = (*Hub)(nil)

// NewHub creates a hub with room for bufferSize undelivered events.
func NewHub(registry *websocket.Registry, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Hub{
		registry: registry,
		events:   make(chan json.RawMessage, bufferSize),
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "hub"),
	}
}

// Start begins delivering published events.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	h.running = true

	h.wg.Add(1)
	go h.run(ctx)
	h.log.Info("Broadcast hub started")
	return nil
}

// Stop halts delivery and waits for the delivery goroutine to exit. Events
// still queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()
	h.log.Info("Broadcast hub stopped")
	return nil
}

// Publish implements interfaces.Broadcaster. The event is encoded once and
// shared by every session.
func (h *Hub) Publish(event interface{}) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		h.dropped.Add(1)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode broadcast event")
		return
	}

	select {
	case h.events <- data:
		h.published.Add(1)
	default:
		if h.dropped.Add(1)%1000 == 1 {
			h.log.Warn("Hub queue full, dropping broadcast events")
		}
	}
}

// Unicast implements interfaces.Broadcaster.
func (h *Hub) Unicast(sessionID string, event interface{}) bool {
	sub, exists := h.registry.Get(sessionID)
	if !exists {
		return false
	}
	if err := sub.Send(event); err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Debug("Unicast undeliverable")
		return false
	}
	return true
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case data := <-h.events:
			h.deliver(data)
		case <-h.done:
			return
		case <-ctx.Done():
			h.log.Debug("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) deliver(data json.RawMessage) {
	for _, sub := range h.registry.Snapshot() {
		if err := sub.Send(data); err != nil {
			continue
		}
		h.delivered.Add(1)
	}
}

// GetStats returns a snapshot of the hub counters.
func (h *Hub) GetStats() Stats {
	return Stats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Delivered:   h.delivered.Load(),
		Subscribers: len(h.registry.Snapshot()),
	}
}
