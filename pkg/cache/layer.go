// The lookup cache keeps computed results in a fast in-process tier to avoid repeated calls
// to the shared tier or the underlying services. This module provides the interface for that
// tier, so the orchestrator works the same whether caching is enabled or not.

package cache

import "time"

// Tier defines the interface for the in-process cache tier. This allows different
// implementations (strict LRU, disabled) to sit behind the orchestrator unchanged.
type Tier[V any] interface {
	// Get returns the value for the given key and a boolean indicating whether it was found live.
	Get(key string) (V, bool)
	// Set inserts or overwrites a key-value pair with the given TTL and marks it most recently used.
	Set(key string, value V, ttl time.Duration)
	Invalidate(key string) // Removes one entry, if present.
	Clear()                // Removes all entries and recency records.
	Len() int              // Number of live entries currently held.
	Keys() []string        // All keys currently in the tier.
}

// NoOp is a tier that doesn't store any items. It is used when in-process caching is disabled;
// every lookup then falls through to the far tier or the computation.
type NoOp[V any] struct { // Implements Tier.
}

var _ Tier[int] = (*NoOp[int])(nil)

// NewNoOp returns a no-operation tier that does not store any items.
func NewNoOp[V any]() *NoOp[V] {
	return &NoOp[V]{}
}

// Get always returns false, indicating the key is not found.
func (n *NoOp[V]) Get(key string) (V, bool) {
	var zero V
	return zero, false
}

// Set does nothing.
func (n *NoOp[V]) Set(key string, value V, ttl time.Duration) {}

// Invalidate does nothing, as there is nothing to remove.
func (n *NoOp[V]) Invalidate(key string) {}

// Clear does nothing.
func (n *NoOp[V]) Clear() {}

// Len always returns zero.
func (n *NoOp[V]) Len() int { return 0 }

// Keys always returns nil, as there are no keys stored.
func (n *NoOp[V]) Keys() []string { return nil }
