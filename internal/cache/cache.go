package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache is the resolver-facing cache contract. Values are opaque JSON so the
// in-process map and the shared Redis variant are interchangeable; a cached
// JSON `null` is a valid value and distinct from a miss.
//
// In a multi-instance deployment the Memory implementation may serve reads up
// to one TTL stale relative to another instance's writes. That staleness bound
// is an accepted trade-off; deployments that need cross-instance invalidation
// run the Redis implementation instead.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	// InvalidatePrefix drops every entry whose key starts with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}
