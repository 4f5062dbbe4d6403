// Smoke tool for the lookup cache. It wires up flags and logging, connects the far tier, and runs
// a few coalesced lookup rounds for one key so hits, misses and write-throughs can be observed
// end to end against a real Redis.

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/fieldworks/lookupcache/pkg/cache"
	"github.com/fieldworks/lookupcache/pkg/keys"
	"github.com/fieldworks/lookupcache/pkg/utils"
)

var (
	printVersion  = flag.Bool("print_version", false, "Print the version and exit.")
	farAddress    = flag.String("far_address", "localhost:6379", "The host:port of the shared Redis tier.")
	nearCapacity  = flag.Int("near_capacity", cache.DefaultNearCapacity, "Entry bound of the in-process tier.")
	waiterTimeout = flag.Duration("waiter_timeout", cache.DefaultWaiterTimeout,
		"How long a coalesced caller waits for another caller's computation.")
	model  = flag.String("model", "25HBC436A003", "Model number to look up.")
	rounds = flag.Int("rounds", 3, "How many lookup rounds to run for the key.")
)

func main() {
	flag.Parse()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Lookupcache build info.", "version", utils.Version, "commit", utils.Commit,
			"build", utils.BuildTime)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, os.Kill)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling context.", "signal", sig)
		cancel()
	}()

	orchestrator := cache.New[map[string]any](cache.Options{
		NearCapacity:  *nearCapacity,
		FarAddress:    *farAddress,
		WaiterTimeout: *waiterTimeout,
	})
	defer func() {
		if err := orchestrator.Close(); err != nil {
			slog.Error("Failed to close the cache.", "error", err)
		}
	}()
	if !orchestrator.Connect(ctx) {
		slog.Warn("Continuing without the shared tier; every cold lookup will recompute.")
	}

	key := keys.Build("spec", *model)
	computeFn := func(ctx context.Context) (map[string]any, error) {
		// Stand-in for an expensive upstream lookup.
		slog.Info("Computing specification.", "model", *model)
		time.Sleep(500 * time.Millisecond)
		return map[string]any{"model": *model, "computedAt": time.Now().Format(time.RFC3339)}, nil
	}

	for round := 1; round <= *rounds; round++ {
		if ctx.Err() != nil {
			return
		}
		value, err := orchestrator.GetOrCompute(ctx, key, computeFn, 0 /*ttlNear*/, 0 /*ttlFar*/)
		if err != nil {
			slog.Error("Lookup failed.", "key", key, "round", round, "error", err)
			os.Exit(1)
		}
		stats := orchestrator.Stats()
		slog.Info("Lookup round finished.", "key", key, "round", round, "value", value,
			"nearHits", stats.NearHits, "farHits", stats.FarHits, "misses", stats.Misses,
			"dedup", stats.DedupCount, "occupancy", stats.NearOccupancy)
	}
}
