package submissions

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// Feed wraps a Store and pushes ordered snapshots to subscribers after every
// successful mutation made through it. Run adds polling so that changes made
// by other processes (the worker, another API replica) are observed too.
//
// If the wrapped store is itself a Subscriber, Subscribe delegates to it.
type Feed struct {
	Store

	mu   sync.Mutex
	subs map[*feedSub]struct{}
	// gen orders listings; a snapshot listed earlier never replaces a later one.
	gen atomic.Uint64
}

type feedSub struct {
	opts ListOptions

	mu      sync.Mutex
	ch      chan []Record
	last    string
	lastGen uint64
	closed  bool
}

// NewFeed wraps store.
func NewFeed(store Store) *Feed {
	return &Feed{Store: store, subs: make(map[*feedSub]struct{})}
}

func (f *Feed) Create(ctx context.Context, stub Stub) (Record, error) {
	rec, err := f.Store.Create(ctx, stub)
	if err == nil {
		f.publish(ctx)
	}
	return rec, err
}

func (f *Feed) Update(ctx context.Context, id string, p Patch) (Record, error) {
	rec, err := f.Store.Update(ctx, id, p)
	if err == nil {
		f.publish(ctx)
	}
	return rec, err
}

func (f *Feed) Remove(ctx context.Context, id string) error {
	err := f.Store.Remove(ctx, id)
	if err == nil {
		f.publish(ctx)
	}
	return err
}

// Subscribe registers a subscriber and sends the current snapshot first.
func (f *Feed) Subscribe(ctx context.Context, opts ListOptions) (<-chan []Record, error) {
	if native, ok := f.Store.(Subscriber); ok {
		return native.Subscribe(ctx, opts)
	}
	sub := &feedSub{opts: opts, ch: make(chan []Record, 1)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	gen := f.gen.Add(1)
	initial, err := f.Store.List(ctx, opts)
	if err != nil {
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
		return nil, err
	}
	sub.send(gen, initial)

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
		sub.close()
	}()
	return sub.ch, nil
}

// Subscribers reports the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Run re-lists for every subscriber each interval until ctx ends.
func (f *Feed) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.publish(ctx)
		}
	}
}

func (f *Feed) publish(ctx context.Context) {
	f.mu.Lock()
	subs := make([]*feedSub, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		gen := f.gen.Add(1)
		snap, err := f.Store.List(context.WithoutCancel(ctx), sub.opts)
		if err != nil {
			telemetry.Warn("submission.feed.list_failed", map[string]any{"err": err, "owner_id": sub.opts.OwnerID})
			continue
		}
		sub.send(gen, snap)
	}
}

// send delivers snap unless the subscriber already has it or has been sent a
// snapshot listed after it.
func (s *feedSub) send(gen uint64, snap []Record) {
	fp := fingerprint(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen < s.lastGen {
		return
	}
	s.lastGen = gen
	if fp == s.last {
		return
	}
	s.last = fp
	deliverLatest(s.ch, snap)
}

func (s *feedSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// deliverLatest replaces any undelivered snapshot with snap. ch must have
// capacity 1 and a single sender.
func deliverLatest(ch chan []Record, snap []Record) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func fingerprint(snap []Record) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(snap)))
	for _, rec := range snap {
		b.WriteByte(';')
		b.WriteString(rec.ID)
		b.WriteByte('|')
		b.WriteString(string(rec.Status))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(rec.UpdatedAt.UnixNano(), 10))
	}
	return b.String()
}
