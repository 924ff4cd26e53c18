package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()
	s.Now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTTLNoExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Set(ctx, "k", "v", 0))
	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, NoExpiry, ttl)
}

func TestMemoryExpireResetsTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Now()
	s.Now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", time.Hour))
	require.NoError(t, s.Expire(ctx, "k", time.Minute))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)
}

func TestMemoryHashOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.HSet(ctx, "h", "a", "1"))
	require.NoError(t, s.HSet(ctx, "h", "b", "2"))

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)

	require.NoError(t, s.HDel(ctx, "h", "a"))
	all, err = s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, all)
}

func TestMemoryListOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.LPush(ctx, "l", "c"))
	require.NoError(t, s.LPush(ctx, "l", "b"))
	require.NoError(t, s.LPush(ctx, "l", "a"))

	vals, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, vals)

	require.NoError(t, s.LTrim(ctx, "l", 0, 1))
	vals, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, vals)
}

func TestMemoryStreamTrim(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	for i := 0; i < 5; i++ {
		_, err := s.XAdd(ctx, "st", 3, map[string]string{"n": "x"})
		require.NoError(t, err)
	}

	entries, err := s.XRange(ctx, "st", "-", "+")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMemoryKeysPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Set(ctx, "credential:alice:one", "1", 0))
	require.NoError(t, s.Set(ctx, "credential:alice:two", "2", 0))
	require.NoError(t, s.Set(ctx, "credential:bob:one", "3", 0))
	require.NoError(t, s.Set(ctx, "session:alice", "x", 0))

	keys, err := s.Keys(ctx, "credential:alice:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"credential:alice:one", "credential:alice:two"}, keys)
}
