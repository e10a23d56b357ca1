// Package metrics declares the Prometheus collectors shared by the loader and
// the data-access layer. Collectors register with the default registry on
// import; internal/shell serves them with promhttp when metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtensionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugshell_extensions_total",
		Help: "Cumulative number of extensions reaching a terminal load state, by state.",
	}, []string{"state"})
	ExtensionInitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "plugshell_extension_init_seconds",
		Help: "Duration of a single extension initialization.",
	})
	CachePurgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugshell_cache_purges_total",
		Help: "Cumulative number of artifact cache purges, by reason.",
	}, []string{"reason"})
	CachePurgedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plugshell_cache_purged_bytes_total",
		Help: "Cumulative number of bytes removed from the artifact cache.",
	})
	StoreWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugshell_store_writes_total",
		Help: "Cumulative number of successful store writes, by operation.",
	}, []string{"op"})
	StoreWriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugshell_store_write_errors_total",
		Help: "Cumulative number of failed store writes, by operation.",
	}, []string{"op"})
	RowsStreamedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plugshell_rows_streamed_total",
		Help: "Cumulative number of rows streamed by selects.",
	})
	QueryWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plugshell_query_workers_active",
		Help: "Number of select workers currently running.",
	})
)
