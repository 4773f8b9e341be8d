// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream processing
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_events_total",
			Help: "Total number of metric events accepted for detection",
		},
		[]string{"metric_type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_events_dropped_total",
			Help: "Events dropped by partition backpressure sampling",
		},
		[]string{"partition"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shadower_anomaly_queue_depth",
			Help: "Current depth of each partition input queue",
		},
		[]string{"partition"},
	)

	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shadower_anomaly_detection_duration_seconds",
			Help:    "Time spent evaluating one event against one rule",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Detection methods
	MethodFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_method_failures_total",
			Help: "Detection method invocations that failed or timed out",
		},
		[]string{"method"},
	)

	// Lifecycle
	UpsertRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_upsert_retries_total",
			Help: "Lifecycle upserts retried after a persistence error",
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_detections_total",
			Help: "Anomalies persisted, labelled new vs merged occurrence",
		},
		[]string{"outcome", "severity"},
	)

	// Alerting
	AlertsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_alerts_emitted_total",
			Help: "Alert events emitted to the dispatcher",
		},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_alerts_suppressed_total",
			Help: "Alerts suppressed by the debounce or flood guard",
		},
	)

	// Baselines
	RetrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadower_anomaly_retrains_total",
			Help: "Baseline retrain attempts by result",
		},
		[]string{"result"},
	)

	ModelsDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shadower_anomaly_models_degraded",
			Help: "Number of baseline models currently degraded",
		},
	)
)
