// Package metrics has prometheus metric variables/functions for the
// ingestion and export pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIngest = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxen_ingest_total",
			Help: "Email ingestion attempts and results.",
		},
		[]string{
			"result", // ok, error, parseerror
		},
	)
	metricIngestParts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxen_ingest_parts_total",
			Help: "MIME parts persisted during ingestion.",
		},
	)
	metricDedup = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxen_dedup_total",
			Help: "Content-addressed store lookups during ingestion.",
		},
		[]string{
			"kind",   // body, headername, headerdata
			"result", // created, existing
		},
	)
	metricExport = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxen_export_total",
			Help: "Message reconstructions for export/download.",
		},
		[]string{
			"result", // ok, error
		},
	)
	metricExportPartError = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxen_export_part_errors_total",
			Help: "Parts exported with an error marker, e.g. unknown transfer encoding.",
		},
	)
)

// IngestInc tracks one ingestion attempt.
func IngestInc(result string) {
	metricIngest.WithLabelValues(result).Inc()
}

// IngestPartsAdd tracks parts persisted by a successful ingestion.
func IngestPartsAdd(n int) {
	metricIngestParts.Add(float64(n))
}

// DedupInc tracks a get-or-create in one of the content-addressed stores.
func DedupInc(kind string, created bool) {
	result := "existing"
	if created {
		result = "created"
	}
	metricDedup.WithLabelValues(kind, result).Inc()
}

// ExportInc tracks one message reconstruction.
func ExportInc(result string) {
	metricExport.WithLabelValues(result).Inc()
}

// ExportPartErrorInc tracks a part that was exported with an error marker.
func ExportPartErrorInc() {
	metricExportPartError.Inc()
}
