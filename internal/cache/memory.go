package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemorySize bounds a Memory cache built with a non-positive size.
const DefaultMemorySize = 1024

// Memory is an in-process Cache holding at most size listings, each for ttl.
// The least recently used listing is evicted first; expired ones are swept in the background.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory returns an empty Memory cache.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, normalizeTTL(ttl))}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	return m.lru.Get(key)
}

func (m *Memory) Set(_ context.Context, key string, value []byte) {
	m.lru.Add(key, append([]byte(nil), value...))
}

func (m *Memory) InvalidateOwner(_ context.Context, ownerID int64) {
	prefix := ownerPrefix(ownerID)
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.lru.Remove(key)
		}
	}
}

// Len reports how many listings are held.
func (m *Memory) Len() int {
	return m.lru.Len()
}

var _ Cache = (*Memory)(nil)
