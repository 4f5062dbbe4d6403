// This module implements single-flight coalescing for cache misses. When many callers ask for the
// same not-yet-cached key at once, exactly one of them (the leader) runs the computation; everyone
// else attaches to the leader's flight and receives the same resolution, value or error. This is
// what keeps a popular cold key from turning into a thundering herd of identical upstream calls.
//
// The check-then-insert on the flight map happens under one mutex, which is what makes the
// at-most-one-leader property hold under preemptive goroutines. The leader publishes its flight
// before invoking the computation, so a caller that arrives a nanosecond later already finds it.

package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrWaitTimeout is returned to a waiter whose individual timeout elapsed before the shared
// computation resolved. It affects only that waiter; the computation and the other waiters
// carry on untouched.
var ErrWaitTimeout = errors.New("timed out waiting for in-flight computation")

// ComputeFn produces the value for a cache key. It must be idempotent and safe to invoke at most
// once per miss window. The registry never cancels it; if it must be abortable, that is the
// caller's responsibility.
type ComputeFn[V any] func(ctx context.Context) (V, error)

// flight is one in-progress computation. It is owned by the registry for the duration of the
// computation and never escapes it.
type flight[V any] struct {
	done      chan struct{} // Closed exactly once, after value/err are final.
	value     V
	err       error
	waiters   int       // Callers that joined instead of leading; guarded by the registry mutex.
	startedAt time.Time // When the leader started the computation.
}

// Registry tracks in-progress computations by key. The zero value is not usable; use NewRegistry.
type Registry[V any] struct {
	flights map[string]*flight[V]
	mux     sync.Mutex // Guards the check-then-insert step; see the module comment.
}

// NewRegistry is the constructor for Registry.
func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{flights: make(map[string]*flight[V])}
}

// Run executes computeFn under the single-flight guarantee for the given key. If a computation for
// the key is already in progress, the call joins it (joined=true) and waits up to waiterTimeout
// for the shared resolution without invoking computeFn. Otherwise the call leads: it runs
// computeFn to completion, fans the resolution out to every waiter, and removes the flight so the
// next call for this key starts a fresh window.
//
// A non-positive waiterTimeout means joined callers wait until the context or the flight resolves.
func (r *Registry[V]) Run(ctx context.Context, key string, computeFn ComputeFn[V],
	waiterTimeout time.Duration) (V, bool /*joined*/, error) {
	r.mux.Lock()
	if fl, inFlight := r.flights[key]; inFlight {
		fl.waiters++
		r.mux.Unlock()
		opsMetric.WithLabelValues(tierFlight, "join").Inc()
		return r.await(ctx, key, fl, waiterTimeout)
	}
	fl := &flight[V]{done: make(chan struct{}), startedAt: time.Now()}
	// Publish before running computeFn so concurrent callers for this key join instead of leading.
	r.flights[key] = fl
	r.mux.Unlock()
	opsMetric.WithLabelValues(tierFlight, "lead").Inc()

	// The computation is shared by every waiter, so the leader's own cancellation must not
	// abort it mid-flight.
	fl.value, fl.err = computeFn(context.WithoutCancel(ctx))

	r.mux.Lock()
	// Remove before broadcasting: once waiters observe the resolution, a new call for this key
	// must trigger a fresh computation rather than replay this one.
	delete(r.flights, key)
	waiters := fl.waiters
	r.mux.Unlock()
	close(fl.done)

	slog.Debug("In-flight computation resolved.", "key", key, "waiters", waiters,
		"duration", time.Since(fl.startedAt), "failed", fl.err != nil)
	return fl.value, false, fl.err
}

// await blocks a joined caller on the shared resolution, bounded by its own timeout and context.
// Abandoning the wait abandons only this caller; the flight itself is untouched.
func (r *Registry[V]) await(ctx context.Context, key string, fl *flight[V],
	waiterTimeout time.Duration) (V, bool, error) {
	var timeout <-chan time.Time
	if waiterTimeout > 0 {
		timer := time.NewTimer(waiterTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-fl.done:
		return fl.value, true, fl.err
	case <-timeout:
		opsMetric.WithLabelValues(tierFlight, "timeout").Inc()
		slog.Warn("Gave up waiting for in-flight computation.", "key", key,
			"waited", time.Since(fl.startedAt), "waiterTimeout", waiterTimeout)
		return *new(V), true, ErrWaitTimeout
	case <-ctx.Done():
		return *new(V), true, ctx.Err()
	}
}

// Len returns the number of computations currently in flight.
func (r *Registry[V]) Len() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.flights)
}

// Keys returns the keys currently being computed, for observability.
func (r *Registry[V]) Keys() []string {
	r.mux.Lock()
	defer r.mux.Unlock()

	keys := make([]string, 0, len(r.flights))
	for key := range r.flights {
		keys = append(keys, key)
	}
	return keys
}
