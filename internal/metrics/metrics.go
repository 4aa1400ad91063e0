// Package metrics holds the process-wide Prometheus instruments. Counters
// register on the default registry at init; serving them is the binary's
// choice (fleetd mounts promhttp when asked). Detection semantics never
// read these.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons used with RecordsRejected.
const (
	ReasonBadMMSI      = "bad_mmsi"
	ReasonBadLatLon    = "bad_latlon"
	ReasonBadTimestamp = "bad_timestamp"
	ReasonDBError      = "db_error"
)

var (
	// PositionsStored counts canonical position rows actually written.
	PositionsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiancefleet_positions_stored_total",
		Help: "AIS positions written to the store",
	})

	// DuplicatesSkipped counts positions dropped on the (vessel, timestamp)
	// natural key.
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiancefleet_positions_duplicate_total",
		Help: "AIS positions skipped as duplicates",
	})

	// RecordsRejected counts ingest rows dropped before storage, by reason.
	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiancefleet_records_rejected_total",
		Help: "Ingest records rejected during normalization or insert",
	}, []string{"reason"})

	// BatchesCommitted counts successfully committed ingest batches.
	BatchesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radiancefleet_ingest_batches_total",
		Help: "Ingest batches committed",
	})

	// PipelineSteps counts step outcomes per pipeline run.
	PipelineSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiancefleet_pipeline_steps_total",
		Help: "Pipeline step outcomes",
	}, []string{"step", "status"})

	// PipelineRuns counts finished runs by terminal status.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiancefleet_pipeline_runs_total",
		Help: "Pipeline runs by terminal status",
	}, []string{"status"})

	// DetectorEvents counts events created, by detector.
	DetectorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radiancefleet_detector_events_total",
		Help: "Anomaly events created by each detector",
	}, []string{"detector"})
)
