// Package cache provides the fingerprint-keyed response cache for the
// gateway. The cache is content-addressed across users: the fingerprint
// deliberately excludes user identity.
package cache

import (
	"context"
	"time"

	gateway "github.com/fitstack/llmgate/internal"
)

// Store is the interface for the underlying byte cache.
type Store interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Delete removes a cached value.
	Delete(ctx context.Context, key string)
	// Purge removes all cached values.
	Purge(ctx context.Context)
}

// Cacheable reports whether a response may be stored. Streaming requests,
// and zero-token responses from the fallback, are never cached.
func Cacheable(req *gateway.Request, resp *gateway.Response) bool {
	if req.Stream {
		return false
	}
	if resp == nil || resp.TokensUsed == 0 {
		return false
	}
	return true
}
