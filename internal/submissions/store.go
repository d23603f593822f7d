package submissions

import (
	"context"
	"sort"
	"sync/atomic"
	"time"
)

// Store persists submission records.
type Store interface {
	// Create allocates the id, sets submittedAt and places the record at the
	// head of the listing order.
	Create(ctx context.Context, stub Stub) (Record, error)
	// Update merges p atomically; ErrNotFound if the id does not exist.
	Update(ctx context.Context, id string, p Patch) (Record, error)
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns submittedAt descending, then most recent insertion first.
	List(ctx context.Context, opts ListOptions) ([]Record, error)
}

// Subscriber delivers ordered snapshots until ctx ends, then closes the
// channel. The first delivery is the current snapshot. Intermediate snapshots
// may be skipped; the latest one is always delivered.
type Subscriber interface {
	Subscribe(ctx context.Context, opts ListOptions) (<-chan []Record, error)
}

// sortRecords orders newest first; seq breaks submittedAt ties.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].SubmittedAt.Equal(records[j].SubmittedAt) {
			return records[i].SubmittedAt.After(records[j].SubmittedAt)
		}
		return records[i].Seq > records[j].Seq
	})
}

func paginate(records []Record, opts ListOptions) []Record {
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []Record{}
	}
	records = records[offset:]
	if opts.Limit > 0 && opts.Limit < len(records) {
		records = records[:opts.Limit]
	}
	return records
}

// now truncates to microseconds so every backend round-trips the same value.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

var lastSeq atomic.Int64

// nextSeq returns a process-wide strictly increasing sequence seeded from the
// wall clock, so records created after a restart still sort after older ones.
func nextSeq() int64 {
	for {
		prev := lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= prev {
			next = prev + 1
		}
		if lastSeq.CompareAndSwap(prev, next) {
			return next
		}
	}
}
