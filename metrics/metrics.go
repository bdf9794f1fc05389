// Package metrics exposes the storage core's counters as Prometheus
// collectors, the way the rest of the example corpus instruments its
// services. The core never reads these back; they exist purely for an
// operator scraping /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BufferPool holds the counters one buffer pool instance reports.
type BufferPool struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	Evictions   prometheus.Counter
	PinnedGauge prometheus.Gauge
}

// NewBufferPool registers a fresh set of counters labeled by instance name
// against reg. Tests and demos that construct many pools should pass a
// private registry rather than prometheus.DefaultRegisterer to avoid
// duplicate-registration panics.
func NewBufferPool(reg prometheus.Registerer, instance string) *BufferPool {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"instance": instance}

	return &BufferPool{
		Hits: factory.NewCounter(prometheus.CounterOpts{
			Name:        "relicore_buffer_pool_hits_total",
			Help:        "Pages served from a resident frame without a disk read.",
			ConstLabels: labels,
		}),
		Misses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "relicore_buffer_pool_misses_total",
			Help:        "Pages that required a disk read to populate a frame.",
			ConstLabels: labels,
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name:        "relicore_buffer_pool_evictions_total",
			Help:        "Frames reclaimed from the replacement policy to satisfy a new/fetch.",
			ConstLabels: labels,
		}),
		PinnedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "relicore_buffer_pool_pinned_frames",
			Help:        "Frames currently pinned (unavailable for eviction).",
			ConstLabels: labels,
		}),
	}
}

// LockManager holds the counters the lock manager reports.
type LockManager struct {
	Wounds prometheus.Counter
	Waits  prometheus.Counter
	Grants prometheus.Counter
}

func NewLockManager(reg prometheus.Registerer) *LockManager {
	factory := promauto.With(reg)

	return &LockManager{
		Wounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "relicore_lock_manager_wounds_total",
			Help: "Transactions aborted by an older conflicting transaction under wound-wait.",
		}),
		Waits: factory.NewCounter(prometheus.CounterOpts{
			Name: "relicore_lock_manager_waits_total",
			Help: "Lock requests that blocked on an older holder before being granted.",
		}),
		Grants: factory.NewCounter(prometheus.CounterOpts{
			Name: "relicore_lock_manager_grants_total",
			Help: "Lock requests granted, whether immediately or after a wait.",
		}),
	}
}
