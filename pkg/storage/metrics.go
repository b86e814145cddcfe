package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	diskLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disk_store_lookups_total",
		Help: "Total number of disk store lookups.",
	}, []string{"status" /* hit | miss | corrupt */})
	diskEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disk_store_edits_total",
		Help: "Total number of finished disk store edits.",
	}, []string{"result" /* committed | aborted | size_mismatch | too_large | failed */})
	diskEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disk_store_evictions_total",
		Help: "Total number of entries evicted from the disk store to satisfy its capacity.",
	})
	diskCompactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disk_store_journal_compactions_total",
		Help: "Total number of journal rewrites.",
	})
	diskRecoveryRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disk_store_recovery_repairs_total",
		Help: "Total number of problems fixed while opening a disk store.",
	}, []string{"kind" /* corrupt_line | incomplete_edit | missing_file | bad_file | orphan_file | temp_file */})
	diskDisabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "disk_store_disabled",
		Help: "1 when a disk store was disabled by a journal write failure.",
	})
	diskResidentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "disk_store_resident_bytes",
		Help: "Logical bytes held by the most recently mutated disk store.",
	})
)
