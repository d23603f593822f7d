package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Check probes one dependency; nil means ready.
type Check func(ctx context.Context) error

// Service runs readiness checks for the process's dependencies.
type Service struct {
	Timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Check
}

// NewService constructs a health service with no checks.
func NewService() *Service {
	return &Service{checks: make(map[string]Check)}
}

// Register adds or replaces a named check.
func (s *Service) Register(name string, check Check) {
	if check == nil {
		return
	}
	s.mu.Lock()
	s.checks[name] = check
	s.mu.Unlock()
}

// Status is the liveness payload.
func (s *Service) Status() map[string]bool {
	return map[string]bool{"ok": true}
}

// Result is the outcome of one check.
type Result struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Ready runs every check concurrently, each bounded by Timeout.
func (s *Service) Ready(ctx context.Context) (bool, []Result) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(names)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	results := make([]Result, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res := Result{Name: name, OK: true}
			if err := checks[name](cctx); err != nil {
				res.OK = false
				res.Error = err.Error()
			}
			results[i] = res
		}(i, name)
	}
	wg.Wait()

	ready := true
	for _, r := range results {
		ready = ready && r.OK
	}
	return ready, results
}
