package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry-level counters, exposed on /metrics next to the fiberprometheus
// HTTP metrics.
var (
	DeploysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitehost_deploys_total",
		Help: "Publish operations by result.",
	}, []string{"result"})

	ActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitehost_activations_total",
		Help: "Activation attempts by outcome.",
	}, []string{"outcome"})

	GCCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitehost_gc_collected_versions_total",
		Help: "Retired versions reclaimed by the garbage collector.",
	})

	GCBlobsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitehost_gc_deleted_blobs_total",
		Help: "Content blobs deleted by the garbage collector.",
	})

	GCErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitehost_gc_errors_total",
		Help: "Per-hash garbage collection errors (logged and skipped).",
	})
)
