// Package secret resolves provider credentials from pluggable backends.
// Refs name a backend and an identifier; raw secret material never appears
// in configuration, logs, or responses.
package secret

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Backend identifies a secret store.
type Backend string

const (
	BackendEnv   Backend = "env"
	BackendFile  Backend = "file"
	BackendVault Backend = "vault"
)

// Ref is a tagged reference into a secret backend.
type Ref struct {
	Backend Backend
	Name    string
}

// ParseRef parses "backend:name" references. A bare name defaults to the
// env backend for compatibility with plain environment variable config.
func ParseRef(s string) (Ref, error) {
	if s == "" {
		return Ref{}, fmt.Errorf("empty secret ref")
	}
	backend, name, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{Backend: BackendEnv, Name: s}, nil
	}
	switch Backend(backend) {
	case BackendEnv, BackendFile, BackendVault:
		if name == "" {
			return Ref{}, fmt.Errorf("secret ref %q has empty name", s)
		}
		return Ref{Backend: Backend(backend), Name: name}, nil
	default:
		return Ref{}, fmt.Errorf("unknown secret backend %q", backend)
	}
}

// String prints the backend and name only; never the resolved value.
func (r Ref) String() string { return string(r.Backend) + ":" + r.Name }

// Resolver resolves a Ref to its secret value.
type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (string, error)
}

// --- Env backend ---

// Env resolves secrets from process environment variables.
type Env struct{}

// Resolve looks up the ref name in the environment.
func (Env) Resolve(_ context.Context, ref Ref) (string, error) {
	v, ok := os.LookupEnv(ref.Name)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s not set", ref)
	}
	return v, nil
}

// --- File backend ---

// File resolves secrets from a key=value file. Lines starting with '#' are
// ignored. The file is read on every resolve; the caching resolver in front
// keeps this off the hot path.
type File struct {
	Path string
}

// Resolve scans the file for the named key.
func (f File) Resolve(_ context.Context, ref Ref) (string, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("open secret file: %w", err)
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == ref.Name {
			return strings.TrimSpace(v), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	return "", fmt.Errorf("secret %s not found in %s", ref, f.Path)
}

// --- Multi-backend dispatch ---

// Multi dispatches resolution to the backend named by the ref.
type Multi struct {
	backends map[Backend]Resolver
}

// NewMulti builds a dispatcher over the given backends.
func NewMulti(backends map[Backend]Resolver) *Multi {
	return &Multi{backends: backends}
}

// Resolve delegates to the ref's backend.
func (m *Multi) Resolve(ctx context.Context, ref Ref) (string, error) {
	b, ok := m.backends[ref.Backend]
	if !ok {
		return "", fmt.Errorf("no resolver for backend %q", ref.Backend)
	}
	return b.Resolve(ctx, ref)
}

// --- Process-lifetime cache ---

// Cached memoizes successful resolutions for the lifetime of the process.
// Entries do not expire; Reload drops them all when the process signals a
// configuration reload.
type Cached struct {
	inner Resolver

	mu    sync.RWMutex
	cache map[Ref]string
}

// NewCached wraps a resolver with a process-lifetime cache.
func NewCached(inner Resolver) *Cached {
	return &Cached{inner: inner, cache: make(map[Ref]string)}
}

// Resolve returns the cached value or resolves and caches it. Failures are
// not cached so a later resolve can succeed.
func (c *Cached) Resolve(ctx context.Context, ref Ref) (string, error) {
	c.mu.RLock()
	v, ok := c.cache[ref]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.inner.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[ref] = v
	c.mu.Unlock()
	return v, nil
}

// Reload clears all cached entries.
func (c *Cached) Reload() {
	c.mu.Lock()
	c.cache = make(map[Ref]string)
	c.mu.Unlock()
}
