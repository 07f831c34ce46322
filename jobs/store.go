// Package jobs runs the long multi-scene operations (aggregation, spectral
// indices and mosaics) in the background and tracks their status.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nci/satgate/utils"
)

// ErrNotFound is returned by a Store for an absent or expired key.
var ErrNotFound = errors.New("job not found")

// Store keeps job status records. Values are written whole.
type Store interface {
	Set(ctx context.Context, id string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// OpenStore builds the store named by cfg.Store. The returned close
// function releases it.
func OpenStore(cfg utils.JobsConfig) (Store, func() error, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), func() error { return nil }, nil
	case "memcache":
		return NewMemcacheStore(cfg.MemcacheAddr), func() error { return nil }, nil
	case "badger":
		s, err := OpenBadgerStore(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, &utils.ConfigurationError{Reason: fmt.Sprintf("unknown job store %q", cfg.Store)}
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps records in process. Expired entries are dropped on
// read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Set(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}
