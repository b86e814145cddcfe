package tiered

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_lookups_total",
		Help: "Total number of coordinator lookups.",
	}, []string{"result" /* memory_hit | disk_hit | miss */})
	promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_promotions_total",
		Help: "Total number of disk hits considered for promotion into the memory tier.",
	}, []string{"result" /* promoted | too_large | not_admitted | busy | stale | failed */})
	commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_commits_total",
		Help: "Total number of coordinator commits.",
	}, []string{"mode" /* write_through | write_behind | memory_only */, "result" /* ok | failed */})
	writeBehinds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_write_behind_total",
		Help: "Total number of background disk writes.",
	}, []string{"result" /* scheduled | dropped | committed | superseded | busy | failed */})
	loads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_loads_total",
		Help: "Total number of loader calls made by GetOrLoad.",
	}, []string{"result" /* loaded | failed */})
)
