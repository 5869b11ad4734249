package goswcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_hits_total",
			Help: "Cache hits served, by request kind",
		},
		[]string{"kind"},
	)

	metricCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swcache_misses_total",
			Help: "Requests that missed the cache and went to the network",
		},
	)

	metricRevalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swcache_revalidations_total",
			Help: "Background revalidation fetches started",
		},
	)

	metricEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swcache_evictions_total",
			Help: "Cache entries evicted after a stale document was detected",
		},
	)

	metricBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swcache_broadcasts_total",
			Help: "Update-available messages posted to clients",
		},
	)

	metricInstallFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swcache_install_failures_total",
			Help: "Install attempts aborted because a precache asset failed",
		},
	)
)
