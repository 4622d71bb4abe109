// Package events broadcasts round-lifecycle events to live subscribers, one
// stream per diagnostic session.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	TypeRoundProcessed    = "round_processed"
	TypeFeedbackSubmitted = "feedback_submitted"
	TypeReportGenerated   = "report_generated"
)

// Event is one round-lifecycle notification.
type Event struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	RoundNumber int       `json:"round_number,omitempty"`
	Passed      *bool     `json:"passed,omitempty"`
	Approved    *bool     `json:"approved,omitempty"`
	At          time.Time `json:"at"`
}

// subscriberBuffer bounds how many events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 16

// Hub fans events out to per-session subscribers. Publishing never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// workflow.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{} // sessionID -> subscriber channels
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a subscriber for one session's events. The returned
// cancel func must be called when the subscriber goes away.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its session.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			slog.Debug("dropping event for slow subscriber",
				"session_id", event.SessionID, "type", event.Type)
		}
	}
}

// SubscriberCount returns how many subscribers a session currently has.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
