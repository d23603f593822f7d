// Package notify carries user-visible notifications (toasts) from the
// submission workflow to connected clients.
package notify

import (
	"context"
	"sync"
	"time"
)

const (
	VariantDefault     = "default"
	VariantDestructive = "destructive"
)

// Notification is a short message addressed to one owner.
type Notification struct {
	OwnerID      string    `json:"ownerId"`
	SubmissionID string    `json:"submissionId,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Variant      string    `json:"variant"`
	At           time.Time `json:"at"`
}

// Notifier delivers notifications. Delivery is best effort and never fails
// the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Nop discards notifications.
var Nop Notifier = Func(func(context.Context, Notification) {})

// Multi fans a notification out to every non-nil notifier.
func Multi(notifiers ...Notifier) Notifier {
	list := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			list = append(list, n)
		}
	}
	return Func(func(ctx context.Context, n Notification) {
		for _, target := range list {
			target.Notify(ctx, n)
		}
	})
}

// Hub is the in-process fan-out of notifications to per-owner subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Notification]struct{}
	buffer int
}

// NewHub builds a hub whose subscriber channels hold buffer notifications.
// A subscriber that falls behind loses the overflow.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[string]map[chan Notification]struct{}), buffer: buffer}
}

// Notify delivers n to every subscriber for n.OwnerID without blocking.
func (h *Hub) Notify(_ context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	if n.Variant == "" {
		n.Variant = VariantDefault
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[n.OwnerID] {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribe returns a channel of ownerID's notifications, closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, ownerID string) <-chan Notification {
	ch := make(chan Notification, h.buffer)
	h.mu.Lock()
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[chan Notification]struct{})
	}
	h.subs[ownerID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[ownerID], ch)
		if len(h.subs[ownerID]) == 0 {
			delete(h.subs, ownerID)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}
