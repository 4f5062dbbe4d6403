package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/lookupcache/pkg/keys"
	"github.com/fieldworks/lookupcache/pkg/redistest"
)

func newConnectedOrchestrator[V any](t *testing.T, opts Options) *Orchestrator[V] {
	t.Helper()
	orch := New[V](opts)
	if opts.FarAddress != "" {
		require.True(t, orch.Connect(context.Background()))
	}
	t.Cleanup(func() { require.NoError(t, orch.Close()) })
	return orch
}

// TestOrchestrator_CoalescedLookup walks the full lifecycle of one hot key: a cold first call
// that computes, a concurrent second call that joins the in-flight computation, and a third call
// served straight from the near tier.
func TestOrchestrator_CoalescedLookup(t *testing.T) {
	ctx := context.Background()
	server := redistest.NewServer(t)
	orch := newConnectedOrchestrator[map[string]any](t, Options{FarAddress: server.Addr(), NearCapacity: 10})

	key := keys.Build("spec", "25HBC436A003")
	require.Equal(t, "spec:25hbc436a003", key)

	spec := map[string]any{"amp": 18.2}
	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	computeFn := func(ctx context.Context) (map[string]any, error) {
		calls.Add(1)
		close(started)
		<-release
		return spec, nil
	}

	// First call: double miss, leads the computation.
	firstDone := make(chan map[string]any, 1)
	go func() {
		value, err := orch.GetOrCompute(ctx, key, computeFn, 0, 0)
		assert.NoError(t, err)
		firstDone <- value
	}()
	<-started

	// Second call arrives while the first is still pending: it must join, not recompute.
	secondDone := make(chan map[string]any, 1)
	go func() {
		value, err := orch.GetOrCompute(ctx, key, computeFn, 0, 0)
		assert.NoError(t, err)
		secondDone <- value
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.Equal(t, spec, <-firstDone)
	assert.Equal(t, spec, <-secondDone)

	stats := orch.Stats()
	assert.Equal(t, uint64(1), stats.Misses, "Only the leader records a miss")
	assert.Equal(t, uint64(1), stats.DedupCount, "The second caller joined instead of computing")
	assert.Equal(t, uint64(1), stats.Sets)
	assert.Equal(t, 1, stats.NearOccupancy)

	// Third call, after both completed: served by the near tier, no recomputation.
	value, err := orch.GetOrCompute(ctx, key, computeFn, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, spec, value)
	assert.Equal(t, uint64(1), orch.Stats().NearHits)
	assert.Equal(t, int64(1), calls.Load(), "The computation should have run exactly once overall")
}

func TestOrchestrator_FarHitPopulatesNear(t *testing.T) {
	ctx := context.Background()
	server := redistest.NewServer(t)
	key := keys.Build("manual", "carrier", "58STA")
	manual := map[string]any{"pages": float64(120), "title": "service manual"}

	// One orchestrator computes and writes through to the shared tier.
	writer := newConnectedOrchestrator[map[string]any](t, Options{FarAddress: server.Addr()})
	_, err := writer.GetOrCompute(ctx, key,
		func(ctx context.Context) (map[string]any, error) { return manual, nil }, 0, 0)
	require.NoError(t, err)

	// A second orchestrator with a cold near tier must be served by the far tier, not recompute.
	reader := newConnectedOrchestrator[map[string]any](t, Options{FarAddress: server.Addr()})
	var calls atomic.Int64
	computeFn := func(ctx context.Context) (map[string]any, error) {
		calls.Add(1)
		return nil, errors.New("should not be called")
	}

	value, err := reader.GetOrCompute(ctx, key, computeFn, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, manual, value)
	assert.Equal(t, int64(0), calls.Load())

	stats := reader.Stats()
	assert.Equal(t, uint64(1), stats.FarHits)
	assert.Equal(t, 1, stats.NearOccupancy, "A far hit should populate the near tier")

	// And the follow-up is a near hit.
	_, err = reader.GetOrCompute(ctx, key, computeFn, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reader.Stats().NearHits)
}

func TestOrchestrator_FarTierDownFallback(t *testing.T) {
	ctx := context.Background()
	orch := New[string](Options{FarAddress: "127.0.0.1:1"})
	t.Cleanup(func() { require.NoError(t, orch.Close()) })
	assert.False(t, orch.Connect(ctx), "The dead far tier should not connect")

	var calls atomic.Int64
	computeFn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "computed", nil
	}

	// With the shared tier down, lookups still work; they just can't share.
	value, err := orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
	require.NoError(t, err, "A dead far tier must never surface an error")
	assert.Equal(t, "computed", value)

	// The near tier was still populated.
	value, err = orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "computed", value)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, uint64(1), orch.Stats().NearHits)
}

func TestOrchestrator_Invalidate(t *testing.T) {
	ctx := context.Background()
	server := redistest.NewServer(t)
	orch := newConnectedOrchestrator[string](t, Options{FarAddress: server.Addr()})

	var calls atomic.Int64
	computeFn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	_, err := orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
	require.NoError(t, err)

	orch.Invalidate(ctx, "key")

	// Both tiers miss after invalidation.
	_, found := orch.near.Get("key")
	assert.False(t, found, "Near tier should miss after invalidate")
	_, found = orch.far.Get(ctx, "key")
	assert.False(t, found, "Far tier should miss after invalidate")

	// And the next lookup recomputes.
	_, err = orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestOrchestrator_ClearWithPattern(t *testing.T) {
	ctx := context.Background()
	server := redistest.NewServer(t)
	orch := newConnectedOrchestrator[string](t, Options{FarAddress: server.Addr()})

	for _, key := range []string{"spec:a", "spec:b", "manual:c"} {
		_, err := orch.GetOrCompute(ctx, key,
			func(ctx context.Context) (string, error) { return "v", nil }, 0, 0)
		require.NoError(t, err)
	}

	orch.Clear(ctx, "spec:*")

	assert.Equal(t, 0, orch.near.Len(), "Clear always empties the near tier")
	assert.ElementsMatch(t, []string{"manual:c"}, server.Keys(),
		"Only far tier keys matching the pattern should be deleted")
	assert.Equal(t, Stats{}, orch.Stats(), "Clear resets the counters")
}

func TestOrchestrator_ClearWithoutPatternKeepsFarTier(t *testing.T) {
	ctx := context.Background()
	server := redistest.NewServer(t)
	orch := newConnectedOrchestrator[string](t, Options{FarAddress: server.Addr()})

	_, err := orch.GetOrCompute(ctx, "spec:a",
		func(ctx context.Context) (string, error) { return "v", nil }, 0, 0)
	require.NoError(t, err)

	orch.Clear(ctx, "" /*pattern*/)

	assert.Equal(t, 0, orch.near.Len())
	assert.Contains(t, server.Keys(), "spec:a", "Without a pattern the shared tier is left to its TTLs")
}

func TestOrchestrator_ComputeFailurePropagates(t *testing.T) {
	ctx := context.Background()
	server := redistest.NewServer(t)
	orch := newConnectedOrchestrator[string](t, Options{FarAddress: server.Addr()})

	computeErr := errors.New("knowledge base query failed")
	var calls atomic.Int64
	failingFn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", computeErr
	}

	_, err := orch.GetOrCompute(ctx, "key", failingFn, 0, 0)
	assert.ErrorIs(t, err, computeErr, "Callers see the original computation error")

	stats := orch.Stats()
	assert.Equal(t, uint64(0), stats.Sets, "No tier is populated on failure")
	assert.Equal(t, 0, stats.NearOccupancy)
	assert.Empty(t, server.Keys())

	// The failure cleared the flight, so the next call retries.
	value, err := orch.GetOrCompute(ctx, "key",
		func(ctx context.Context) (string, error) { return "recovered", nil }, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, int64(1), calls.Load())
}

func TestOrchestrator_DisabledNearTier(t *testing.T) {
	ctx := context.Background()
	server := redistest.NewServer(t)
	orch := newConnectedOrchestrator[string](t, Options{FarAddress: server.Addr(), NearCapacity: -1})

	var calls atomic.Int64
	computeFn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	_, err := orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
	require.NoError(t, err)

	// With the near tier off, the repeat lookup is served by the shared tier.
	_, err = orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
	require.NoError(t, err)

	stats := orch.Stats()
	assert.Equal(t, uint64(0), stats.NearHits)
	assert.Equal(t, uint64(1), stats.FarHits)
	assert.Equal(t, 0, stats.NearOccupancy)
	assert.Equal(t, int64(1), calls.Load())
}

func TestOrchestrator_WaiterTimeout(t *testing.T) {
	ctx := context.Background()
	orch := New[string](Options{WaiterTimeout: 30 * time.Millisecond, FarAddress: "" /*disabled*/})
	t.Cleanup(func() { require.NoError(t, orch.Close()) })

	started := make(chan struct{})
	release := make(chan struct{})
	computeFn := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "slow value", nil
	}

	leaderDone := make(chan error, 1)
	go func() {
		_, err := orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
		leaderDone <- err
	}()
	<-started

	// The joiner gives up on its own timeout; only it sees the error.
	_, err := orch.GetOrCompute(ctx, "key", computeFn, 0, 0)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, 1, orch.Stats().InFlight, "The computation keeps running after a waiter timeout")

	close(release)
	require.NoError(t, <-leaderDone)
	assert.Equal(t, uint64(0), orch.Stats().DedupCount, "A timed-out waiter is not a successful dedup")
}
