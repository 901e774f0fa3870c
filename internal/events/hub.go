// Package events pushes status changes to websocket subscribers. Push is
// best-effort; clients that miss an event recover through status polling.
package events

import (
	"context"
	"log/slog"

	"gallerymind/internal/model"
)

// StatusEvent is broadcast on every status write for a record. Terminal
// events carry the stored analysis payload.
type StatusEvent struct {
	RecordID string          `json:"record_id"`
	OwnerID  string          `json:"owner_id"`
	Status   model.Status    `json:"status"`
	Analysis *model.Analysis `json:"analysis,omitempty"`
	Error    string          `json:"error,omitempty"`
}

const (
	broadcastBuffer  = 64
	subscriberBuffer = 16
)

// Subscription is one client's event stream, scoped to a single owner.
type Subscription struct {
	OwnerID string

	hub *Hub
	ch  chan StatusEvent
}

// Events is closed when the subscription is cancelled, the client falls
// behind, or the hub shuts down.
func (s *Subscription) Events() <-chan StatusEvent {
	return s.ch
}

// Cancel detaches the subscription from the hub.
func (s *Subscription) Cancel() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.done:
	}
}

// Hub fans status events out to per-owner subscribers. The run loop owns the
// subscriber set; registration, teardown and broadcast all go through its
// channels so no lock is shared with callers.
type Hub struct {
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan StatusEvent
	done       chan struct{}
	log        *slog.Logger
}

// NewHub constructs a hub; Run must be started for it to do anything.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan StatusEvent, broadcastBuffer),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves the hub until ctx is cancelled, then closes every subscriber
// channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	subs := make(map[string]map[*Subscription]struct{})
	drop := func(sub *Subscription) {
		set, ok := subs[sub.OwnerID]
		if !ok {
			return
		}
		if _, ok := set[sub]; !ok {
			return
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(subs, sub.OwnerID)
		}
		close(sub.ch)
	}

	for {
		select {
		case <-ctx.Done():
			for _, set := range subs {
				for sub := range set {
					close(sub.ch)
				}
			}
			return
		case sub := <-h.register:
			set, ok := subs[sub.OwnerID]
			if !ok {
				set = make(map[*Subscription]struct{})
				subs[sub.OwnerID] = set
			}
			set[sub] = struct{}{}
			h.log.Debug("subscriber joined", "owner_id", sub.OwnerID, "owner_subs", len(set))
		case sub := <-h.unregister:
			drop(sub)
		case ev := <-h.broadcast:
			for sub := range subs[ev.OwnerID] {
				select {
				case sub.ch <- ev:
				default:
					// A full buffer means the client stopped reading.
					h.log.Debug("dropping slow subscriber", "owner_id", sub.OwnerID)
					drop(sub)
				}
			}
		}
	}
}

// Subscribe registers a new event stream for the owner.
func (h *Hub) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{
		OwnerID: ownerID,
		hub:     h,
		ch:      make(chan StatusEvent, subscriberBuffer),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.ch)
	}
	return sub
}

// Publish enqueues an event without ever blocking the caller; when the hub is
// saturated or stopped the event is dropped and clients catch up by polling.
func (h *Hub) Publish(ev StatusEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	default:
	}
}
