package submissions

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory and is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Record)}
}

// Create stores a new record.
func (s *MemoryStore) Create(ctx context.Context, stub Stub) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := stub.record(uuid.NewString(), nextSeq(), now())
	s.byID[rec.ID] = rec
	return rec, nil
}

// Update merges the patch into an existing record.
func (s *MemoryStore) Update(ctx context.Context, id string, p Patch) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if err := applyPatch(&rec, p, now()); err != nil {
		return Record{}, err
	}
	s.byID[id] = rec
	return rec, nil
}

// Remove deletes a record.
func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

// Get returns a record by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns an ordered snapshot.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Record, 0, len(s.byID))
	for _, rec := range s.byID {
		if opts.OwnerID != "" && rec.OwnerID != opts.OwnerID {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sortRecords(out)
	return paginate(out, opts), nil
}

func (s *MemoryStore) all() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

func (s *MemoryStore) put(rec Record) {
	s.mu.Lock()
	s.byID[rec.ID] = rec
	s.mu.Unlock()
}

func (s *MemoryStore) drop(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}
