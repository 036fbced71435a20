package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingKey_SeparatesOwnersAndFilters(t *testing.T) {
	keys := map[string]bool{}
	for _, k := range []string{
		ListingKey(1, "", ""),
		ListingKey(2, "", ""),
		ListingKey(1, "mug", ""),
		ListingKey(1, "", "mug"),
		ListingKey(1, "mug", "M-1"),
		ListingKey(1, "mug:sku=M-1", ""),
	} {
		assert.False(t, keys[k], "duplicate key %q", k)
		keys[k] = true
	}

	assert.Equal(t, ListingKey(1, "Mug ", "X"), ListingKey(1, "mug", "X"))
	assert.NotEqual(t, ListingKey(1, "", "x"), ListingKey(1, "", "X"))
}

func TestMemory_GetSetAndExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 50*time.Millisecond)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	m.Set(ctx, "k", []byte("v"))
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.Eventually(t, func() bool {
		_, ok := m.Get(ctx, "k")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemory_IsBoundedBySize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(100, time.Minute)

	for i := 0; i < 10000; i++ {
		m.Set(ctx, ListingKey(1, strconv.Itoa(i), ""), []byte("x"))
	}
	assert.Equal(t, 100, m.Len())

	_, ok := m.Get(ctx, ListingKey(1, "0", ""))
	assert.False(t, ok, "oldest listing should be evicted")
	_, ok = m.Get(ctx, ListingKey(1, "9999", ""))
	assert.True(t, ok)
}

func TestMemory_ExpiredEntriesAreReleased(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1000, 50*time.Millisecond)

	for i := 0; i < 500; i++ {
		m.Set(ctx, ListingKey(1, strconv.Itoa(i), ""), []byte("x"))
	}

	require.Eventually(t, func() bool {
		return m.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemory_InvalidateOwnerOnlyDropsThatOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0, 0)

	m.Set(ctx, ListingKey(1, "", ""), []byte("a"))
	m.Set(ctx, ListingKey(1, "mug", ""), []byte("b"))
	m.Set(ctx, ListingKey(11, "", ""), []byte("c"))

	m.InvalidateOwner(ctx, 1)

	_, ok := m.Get(ctx, ListingKey(1, "", ""))
	assert.False(t, ok)
	_, ok = m.Get(ctx, ListingKey(1, "mug", ""))
	assert.False(t, ok)
	_, ok = m.Get(ctx, ListingKey(11, "", ""))
	assert.True(t, ok)
}

func TestRedis_UnreachableServerIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	r := NewRedisClient(client, time.Minute, nil)
	ctx := context.Background()

	r.Set(ctx, "k", []byte("v"))
	_, ok := r.Get(ctx, "k")
	assert.False(t, ok)
	r.InvalidateOwner(ctx, 1)
}
