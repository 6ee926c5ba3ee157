package cache

import (
	"context"
	"encoding/json"
	"time"

	gateway "github.com/fitstack/llmgate/internal"
)

// ResponseCache layers Response serialization over a byte Store.
type ResponseCache struct {
	store      Store
	defaultTTL time.Duration
}

// NewResponseCache wraps a Store with Response encoding and the default TTL.
func NewResponseCache(store Store, defaultTTL time.Duration) *ResponseCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &ResponseCache{store: store, defaultTTL: defaultTTL}
}

// Get returns the cached response for the request's fingerprint, if any.
func (rc *ResponseCache) Get(ctx context.Context, req *gateway.Request) (*gateway.Response, bool) {
	data, ok := rc.store.Get(ctx, Fingerprint(req))
	if !ok {
		return nil, false
	}
	var resp gateway.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		// Corrupt entry; drop it rather than serve garbage.
		rc.store.Delete(ctx, Fingerprint(req))
		return nil, false
	}
	return &resp, true
}

// Set stores a response under the request's fingerprint. Non-cacheable
// responses are silently skipped. ttl <= 0 uses the default.
func (rc *ResponseCache) Set(ctx context.Context, req *gateway.Request, resp *gateway.Response, ttl time.Duration) {
	if !Cacheable(req, resp) {
		return
	}
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	rc.store.Set(ctx, Fingerprint(req), data, ttl)
}

// DefaultTTL exposes the configured default entry lifetime.
func (rc *ResponseCache) DefaultTTL() time.Duration { return rc.defaultTTL }
