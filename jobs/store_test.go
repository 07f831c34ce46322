package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/satgate/utils"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	badgerStore, err := OpenBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { badgerStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": badgerStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "job_1", []byte(`{"status":"pending"}`), time.Hour))
			got, err := s.Get(ctx, "job_1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"status":"pending"}`, string(got))

			require.NoError(t, s.Set(ctx, "job_1", []byte(`{"status":"completed"}`), time.Hour))
			got, err = s.Get(ctx, "job_1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"status":"completed"}`, string(got))

			require.NoError(t, s.Delete(ctx, "job_1"))
			_, err = s.Get(ctx, "job_1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NoError(t, s.Delete(ctx, "job_1"))
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "a", []byte("x"), time.Minute))
	now = now.Add(30 * time.Second)
	_, err := s.Get(ctx, "a")
	assert.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemcacheExpiration(t *testing.T) {
	assert.Equal(t, int32(0), memcacheExpiration(0))
	assert.Equal(t, int32(1), memcacheExpiration(10*time.Millisecond))
	assert.Equal(t, int32(86400), memcacheExpiration(24*time.Hour))
}

func TestOpenStore(t *testing.T) {
	s, closeFn, err := OpenStore(utils.JobsConfig{Store: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, closeFn())

	_, _, err = OpenStore(utils.JobsConfig{Store: "redis"})
	assert.True(t, utils.IsConfiguration(err))
}
