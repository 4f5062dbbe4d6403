package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// opsMetric counts cache operations by tier and outcome. These are monitoring counters and are
// never reset; the per-orchestrator Stats counters are the ones Clear resets.
var opsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lookupcache_ops_total",
	Help: "The total number of cache operations by tier and outcome",
}, []string{
	"tier", // near / far / flight.
	"op",   // hit, miss, set, eviction, expiry, error, lead, join, timeout.
})

const (
	tierNear   = "near"
	tierFar    = "far"
	tierFlight = "flight"
)
