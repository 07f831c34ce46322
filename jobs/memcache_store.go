package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/nci/gomemcache/memcache"
)

const memcacheKeyPrefix = "satgate:job:"

// MemcacheStore shares job records between gateway instances through
// memcached.
type MemcacheStore struct {
	mc *memcache.Client
}

func NewMemcacheStore(addr ...string) *MemcacheStore {
	return &MemcacheStore{mc: memcache.New(addr...)}
}

// memcacheExpiration converts ttl to whole seconds. memcached reads
// values above 30 days as unix times, which a job TTL never reaches.
func memcacheExpiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int32(ttl / time.Second)
	if secs == 0 {
		secs = 1
	}
	return secs
}

func (s *MemcacheStore) Set(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	return s.mc.Set(&memcache.Item{Key: memcacheKeyPrefix + id, Value: value, Expiration: memcacheExpiration(ttl)})
}

func (s *MemcacheStore) Get(ctx context.Context, id string) ([]byte, error) {
	item, err := s.mc.Get(memcacheKeyPrefix + id)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (s *MemcacheStore) Delete(ctx context.Context, id string) error {
	err := s.mc.Delete(memcacheKeyPrefix + id)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
