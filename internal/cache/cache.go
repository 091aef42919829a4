// Package cache provides the key-value cache used to memoize principal-scoped
// conversation lists. Implementations must be safe for concurrent use.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals that a key is absent, as opposed to a transport failure.
var ErrMiss = errors.New("cache: miss")

// Cache is the minimal contract the services depend on.
type Cache interface {
	// Get returns the value stored at key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key. A ttl <= 0 means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys; missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
}

// Noop is a Cache that never stores anything. It is used when no backend
// is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error)                { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Del(context.Context, ...string) error                     { return nil }

var _ Cache = Noop{}
