package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChallengeStore keeps outstanding OTP challenges until they expire.
type ChallengeStore interface {
	Put(ctx context.Context, c Challenge) error
	Get(ctx context.Context, id string) (Challenge, error)
	Delete(ctx context.Context, id string) error
	// Update applies fn to the stored challenge atomically and returns the
	// result. An error from fn leaves the challenge unchanged and is returned.
	Update(ctx context.Context, id string, fn func(*Challenge) error) (Challenge, error)
}

// maxTxRetries bounds optimistic retries when a challenge changes under WATCH.
const maxTxRetries = 8

// MemoryChallengeStore is process-local.
type MemoryChallengeStore struct {
	mu   sync.Mutex
	byID map[string]Challenge
	now  func() time.Time
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{byID: make(map[string]Challenge), now: time.Now}
}

func (s *MemoryChallengeStore) Put(_ context.Context, c Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	s.evictLocked()
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, id string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || !s.now().Before(c.ExpiresAt) {
		delete(s.byID, id)
		return Challenge{}, ErrChallengeNotFound
	}
	return c, nil
}

func (s *MemoryChallengeStore) Update(_ context.Context, id string, fn func(*Challenge) error) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || !s.now().Before(c.ExpiresAt) {
		delete(s.byID, id)
		return Challenge{}, ErrChallengeNotFound
	}
	if err := fn(&c); err != nil {
		return Challenge{}, err
	}
	s.byID[id] = c
	return c, nil
}

func (s *MemoryChallengeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryChallengeStore) evictLocked() {
	now := s.now()
	for id, c := range s.byID {
		if !now.Before(c.ExpiresAt) {
			delete(s.byID, id)
		}
	}
}

// RedisChallengeStore shares challenges between API replicas; keys expire
// with the challenge.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, prefix: "verisure:otp:"}
}

func (s *RedisChallengeStore) Put(ctx context.Context, c Challenge) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return ErrChallengeNotFound
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+c.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set challenge: %w", err)
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, id string) (Challenge, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Challenge{}, ErrChallengeNotFound
		}
		return Challenge{}, fmt.Errorf("redis get challenge: %w", err)
	}
	var c Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return Challenge{}, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return c, nil
}

// Update reads the challenge under WATCH and writes it back in MULTI, keeping
// the key's TTL. A concurrent write restarts the read.
func (s *RedisChallengeStore) Update(ctx context.Context, id string, fn func(*Challenge) error) (Challenge, error) {
	key := s.prefix + id
	var out Challenge
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrChallengeNotFound
			}
			return fmt.Errorf("redis get challenge: %w", err)
		}
		var c Challenge
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("unmarshal challenge: %w", err)
		}
		if err := fn(&c); err != nil {
			return err
		}
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal challenge: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		if err == nil {
			out = c
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Challenge{}, err
		}
		return out, nil
	}
	return Challenge{}, fmt.Errorf("redis update challenge %s: %w", id, redis.TxFailedErr)
}

func (s *RedisChallengeStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis delete challenge: %w", err)
	}
	return nil
}
