package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const fileFormatVersion = 1

type fileSnapshot struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// FileStore is the local persistence variant: the whole collection lives in
// one JSON file that is rewritten atomically after every mutation and
// rehydrated on open.
//
// The file is read once, so a FileStore is single-process: writes by another
// process (a queue worker, or the CLI while an API is running) are neither
// seen nor preserved.
type FileStore struct {
	path string
	mu   sync.Mutex
	mem  *MemoryStore
}

// OpenFileStore loads path if it exists, creating parent directories as needed.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("record file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	s := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode record file %s: %w", path, err)
	}
	if snap.Version > fileFormatVersion {
		return nil, fmt.Errorf("record file %s has unsupported version %d", path, snap.Version)
	}
	for _, rec := range snap.Records {
		if rec.ID == "" {
			continue
		}
		s.mem.put(rec)
		if rec.Seq > lastSeq.Load() {
			lastSeq.Store(rec.Seq)
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Create stores a new record and persists the collection.
func (s *FileStore) Create(ctx context.Context, stub Stub) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.mem.Create(ctx, stub)
	if err != nil {
		return Record{}, err
	}
	if err := s.flushLocked(); err != nil {
		s.mem.drop(rec.ID)
		return Record{}, err
	}
	return rec, nil
}

// Update merges the patch and persists the collection.
func (s *FileStore) Update(ctx context.Context, id string, p Patch) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.mem.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.mem.Update(ctx, id, p)
	if err != nil {
		return Record{}, err
	}
	if err := s.flushLocked(); err != nil {
		s.mem.put(prev)
		return Record{}, err
	}
	return rec, nil
}

// Remove deletes a record and persists the collection.
func (s *FileStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.mem.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.mem.Remove(ctx, id); err != nil {
		return err
	}
	if err := s.flushLocked(); err != nil {
		s.mem.put(prev)
		return err
	}
	return nil
}

// Get returns a record by id.
func (s *FileStore) Get(ctx context.Context, id string) (Record, error) {
	return s.mem.Get(ctx, id)
}

// List returns an ordered snapshot.
func (s *FileStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	return s.mem.List(ctx, opts)
}

// Close flushes the collection one last time.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fileSnapshot{Version: fileFormatVersion, Records: s.mem.all()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write record file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write record file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close record file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace record file: %w", err)
	}
	return nil
}
