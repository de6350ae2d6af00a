// Package store implements the persistent field layer: named slots that keep
// an authoritative in-memory value and flush it to a durable key-value
// backend behind a debounce window (write-behind, not write-through).
package store

import "context"

// Backend is the narrow durable key-value surface a field flushes to.
// Implementations must treat a missing key as (found=false, nil error),
// reserving the error return for transport problems.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
