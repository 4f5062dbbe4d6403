// This module composes the three cache pieces — near tier, far tier, in-flight registry — into the
// one surface collaborators depend on: GetOrCompute / Invalidate / Clear / Stats. The flow per
// lookup is near tier, then far tier, then a coalesced computation with write-through to both
// tiers. Tier failures degrade to recomputation; computation failures propagate to callers.
//
// The orchestrator is an explicitly constructed, injectable instance. Construct one per value
// shape, pass it to the collaborators that need it, Connect it at startup and Close it on the way
// out. There is no package-level singleton.

package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fieldworks/lookupcache/pkg/utils"
)

// Defaults mirror the cache profile of the lookups this module fronts: a few minutes in process,
// an hour shared, and an upper bound on how long one caller politely waits for somebody else's
// computation.
const (
	DefaultNearCapacity  = 100
	DefaultNearTTL       = 5 * time.Minute
	DefaultFarTTL        = time.Hour
	DefaultWaiterTimeout = 30 * time.Second
)

// Options is the construction-time configuration surface. There is no runtime reconfiguration.
type Options struct {
	// NearCapacity is the entry bound of the near tier. Zero picks DefaultNearCapacity;
	// a negative value disables the near tier entirely.
	NearCapacity int
	// NearTTL / FarTTL apply when GetOrCompute is called with non-positive TTLs.
	NearTTL time.Duration
	FarTTL  time.Duration
	// FarAddress is the host:port of the shared Redis tier. Empty disables the far tier.
	FarAddress string
	// WaiterTimeout bounds how long a coalesced caller waits for another caller's computation.
	WaiterTimeout time.Duration
}

// withDefaults fills in the zero-valued knobs.
func (o Options) withDefaults() Options {
	if o.NearCapacity == 0 {
		o.NearCapacity = DefaultNearCapacity
	}
	if o.NearTTL <= 0 {
		o.NearTTL = DefaultNearTTL
	}
	if o.FarTTL <= 0 {
		o.FarTTL = DefaultFarTTL
	}
	if o.WaiterTimeout <= 0 {
		o.WaiterTimeout = DefaultWaiterTimeout
	}
	return o
}

// Stats is a snapshot of the orchestrator's counters. Counters accumulate from construction and
// reset only on an explicit Clear.
type Stats struct {
	NearHits      uint64
	FarHits       uint64
	Misses        uint64 // Lookups that went all the way to a computation of their own.
	Sets          uint64 // Successful write-throughs after a computation.
	DedupCount    uint64 // Callers that joined an in-flight computation instead of starting one.
	NearOccupancy int    // Entries currently held by the near tier.
	InFlight      int    // Computations currently in progress.
}

// Orchestrator is the multi-tier, coalescing lookup cache. The type parameter fixes the value
// shape per instantiation; construct one orchestrator per cached value type.
type Orchestrator[V any] struct {
	opts     Options
	near     Tier[V]
	far      *Far[V]
	registry *Registry[V]

	nearHits atomic.Uint64
	farHits  atomic.Uint64
	misses   atomic.Uint64
	sets     atomic.Uint64
	dedups   atomic.Uint64
}

// New is the constructor for Orchestrator.
func New[V any](opts Options) *Orchestrator[V] {
	opts = opts.withDefaults()
	var near Tier[V]
	if opts.NearCapacity < 0 {
		near = NewNoOp[V]()
	} else {
		near = NewLRU[V](opts.NearCapacity)
	}
	return &Orchestrator[V]{
		opts:     opts,
		near:     near,
		far:      NewFar[V](opts.FarAddress),
		registry: NewRegistry[V](),
	}
}

// Connect brings up the far tier. Returns false when the shared tier is unreachable, in which
// case the orchestrator still works correctly — it just recomputes more.
func (o *Orchestrator[V]) Connect(ctx context.Context) bool {
	return o.far.Connect(ctx)
}

// Close releases the far tier connection.
func (o *Orchestrator[V]) Close() error {
	return o.far.Close()
}

// GetOrCompute returns the cached value for key or computes it. Tiers are consulted nearest
// first; on a double miss the computation runs under the single-flight guarantee and the result
// is written through to both tiers. Non-positive TTLs fall back to the configured defaults.
//
// Callers see either a value, computeFn's own error, or ErrWaitTimeout — never an internal
// cache-plumbing failure.
func (o *Orchestrator[V]) GetOrCompute(ctx context.Context, key string, computeFn ComputeFn[V],
	ttlNear, ttlFar time.Duration) (V, error) {
	if computeFn == nil {
		utils.RaiseInvariant("orchestrator", "nil_compute_fn",
			"GetOrCompute requires a compute function.", "key", key)
		return *new(V), errors.New("nil compute function")
	}
	if ttlNear <= 0 {
		ttlNear = o.opts.NearTTL
	}
	if ttlFar <= 0 {
		ttlFar = o.opts.FarTTL
	}

	if value, found := o.near.Get(key); found {
		o.nearHits.Add(1)
		slog.Debug("Near tier hit.", "key", key)
		return value, nil
	}

	if value, found := o.far.Get(ctx, key); found {
		o.farHits.Add(1)
		o.near.Set(key, value, ttlNear)
		slog.Debug("Far tier hit.", "key", key)
		return value, nil
	}

	value, joined, err := o.registry.Run(ctx, key, computeFn, o.opts.WaiterTimeout)
	if err != nil {
		// Tiers stay unpopulated and the flight is already cleared, so the next call retries.
		return *new(V), err
	}
	if joined {
		o.dedups.Add(1)
		slog.Debug("Joined in-flight computation.", "key", key)
		return value, nil
	}

	// This caller led the computation; write the result through both tiers, best effort.
	o.misses.Add(1)
	o.near.Set(key, value, ttlNear)
	o.far.Set(ctx, key, value, ttlFar)
	o.sets.Add(1)
	slog.Debug("Computed and cached.", "key", key, "ttlNear", ttlNear, "ttlFar", ttlFar)
	return value, nil
}

// Invalidate removes the key from both tiers, unconditionally and regardless of presence.
func (o *Orchestrator[V]) Invalidate(ctx context.Context, key string) {
	o.near.Invalidate(key)
	o.far.Invalidate(ctx, key)
	slog.Debug("Invalidated across tiers.", "key", key)
}

// Clear empties the near tier and resets the counters. When a non-empty pattern is supplied, the
// matching far tier keys are cleared too; there is no cheap clear-everything for a shared
// keyspace, so without a pattern the far tier is left to its TTLs.
func (o *Orchestrator[V]) Clear(ctx context.Context, pattern string) {
	o.near.Clear()
	if pattern != "" {
		o.far.ClearMatching(ctx, pattern)
	}
	o.nearHits.Store(0)
	o.farHits.Store(0)
	o.misses.Store(0)
	o.sets.Store(0)
	o.dedups.Store(0)
	slog.Info("Cache cleared.", "pattern", pattern)
}

// Stats returns a snapshot of the counters plus current occupancy. Purely observational.
func (o *Orchestrator[V]) Stats() Stats {
	return Stats{
		NearHits:      o.nearHits.Load(),
		FarHits:       o.farHits.Load(),
		Misses:        o.misses.Load(),
		Sets:          o.sets.Load(),
		DedupCount:    o.dedups.Load(),
		NearOccupancy: o.near.Len(),
		InFlight:      o.registry.Len(),
	}
}
