// Package cache holds product listings for a short time so repeated list requests skip the database.
//
// The cache is best-effort: a failing backend is logged and treated as a miss.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const keyPrefix = "items"

// Cache stores serialized listings keyed by ListingKey.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	// InvalidateOwner drops every listing cached for ownerID.
	InvalidateOwner(ctx context.Context, ownerID int64)
}

// ListingKey identifies one owner's listing under a given pair of filters.
func ListingKey(ownerID int64, name, sku string) string {
	q := url.Values{}
	q.Set("name", strings.ToLower(strings.TrimSpace(name)))
	q.Set("sku", sku)
	return ownerPrefix(ownerID) + q.Encode()
}

func ownerPrefix(ownerID int64) string {
	return fmt.Sprintf("%s:%d:", keyPrefix, ownerID)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, string, []byte)        {}
func (Nop) InvalidateOwner(context.Context, int64)     {}

var _ Cache = Nop{}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 5 * time.Minute
	}
	return ttl
}
