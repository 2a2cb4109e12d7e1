// Package statuschan pushes asynchronous deployment-status events to
// long-lived subscribers over WebSocket connections.
package statuschan

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StatusEvent is one notification about a long-running deployment
// operation.
type StatusEvent struct {
	DeploymentID string    `json:"deployment_id"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	Progress     int       `json:"progress"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DefaultSubscriberBuffer is how many undelivered events a subscriber
// may lag before it is dropped.
const DefaultSubscriberBuffer = 16

// Hub fans deployment-status events out to subscribers keyed by
// deployment id. Delivery per subscriber is in publish order; a
// subscriber that cannot keep up is dropped rather than reordered or
// blocked on.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// Subscription is one subscriber's ordered event feed.
type Subscription struct {
	hub          *Hub
	deploymentID string

	// mu serializes sends against channel close.
	mu      sync.Mutex
	events  chan StatusEvent
	closed  bool
	dropped bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a feed for one deployment id. buffer <= 0 uses
// DefaultSubscriberBuffer.
func (h *Hub) Subscribe(deploymentID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscription{
		hub:          h,
		deploymentID: deploymentID,
		events:       make(chan StatusEvent, buffer),
	}
	h.mu.Lock()
	set, ok := h.subs[deploymentID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[deploymentID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every subscriber of its deployment id.
// Never blocks: a subscriber whose buffer is full is dropped.
func (h *Hub) Publish(ev StatusEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs[ev.DeploymentID]))
	for sub := range h.subs[ev.DeploymentID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.trySend(ev) {
			log.Warn().Str("deployment_id", ev.DeploymentID).Msg("dropping slow status subscriber")
			sub.end(true)
		}
	}
}

// Subscribers returns the current subscriber count for a deployment.
func (h *Hub) Subscribers(deploymentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[deploymentID])
}

// Events is the subscriber's ordered feed. The channel is closed when
// the subscription ends, either by Close or by falling too far behind.
func (s *Subscription) Events() <-chan StatusEvent {
	return s.events
}

// Dropped reports whether the hub ended the subscription for lagging.
func (s *Subscription) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the hub and closes its feed.
func (s *Subscription) Close() {
	s.end(false)
}

// trySend queues the event without blocking. Returns false when the
// buffer is full; sends on an already-ended subscription are discarded.
func (s *Subscription) trySend(ev StatusEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) end(dropped bool) {
	s.hub.mu.Lock()
	set := s.hub.subs[s.deploymentID]
	delete(set, s)
	if len(set) == 0 {
		delete(s.hub.subs, s.deploymentID)
	}
	s.hub.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.dropped = dropped
	close(s.events)
}
