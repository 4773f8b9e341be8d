// internal/anomaly/types.go
package anomaly

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Metric types evaluated by the subsystem
const (
	MetricUsage     = "usage"
	MetricCost      = "cost"
	MetricErrorRate = "error_rate"
	MetricLatency   = "latency"
)

// Severity is the ordinal severity bucket of a detection.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordering of a severity; unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Max returns the higher of two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// Detection statuses
const (
	StatusNew           = "new"
	StatusAcknowledged  = "acknowledged"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusIgnored       = "ignored"
)

// OpenStatuses are the statuses an anomaly can dedup into.
var OpenStatuses = []string{StatusNew, StatusAcknowledged, StatusInvestigating}

// Baseline model statuses
const (
	ModelFresh    = "fresh"
	ModelStale    = "stale"
	ModelDegraded = "degraded"
)

// MetricEvent is a single time-stamped metric observation. It is consumed
// exactly once per detection pass and never persisted here.
type MetricEvent struct {
	WorkspaceID string            `json:"workspace_id"`
	MetricType  string            `json:"metric_type"`
	Value       float64           `json:"value"`
	Timestamp   time.Time         `json:"timestamp"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Key returns the partition key for the event.
func (e MetricEvent) Key() string {
	return e.WorkspaceID + "|" + e.MetricType
}

// Validate checks the event is evaluable.
func (e MetricEvent) Validate() error {
	if e.WorkspaceID == "" {
		return fmt.Errorf("anomaly: workspace_id is required")
	}
	if e.MetricType == "" {
		return fmt.Errorf("anomaly: metric_type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("anomaly: timestamp is required")
	}
	return nil
}

// AnomalyDetection is one incident: the merged record of every occurrence
// sharing a fingerprint within its debounce window.
type AnomalyDetection struct {
	ID              string    `json:"id"`
	Fingerprint     string    `json:"fingerprint"`
	WorkspaceID     string    `json:"workspace_id"`
	MetricType      string    `json:"metric_type"`
	Method          string    `json:"method"`
	DetectedAt      time.Time `json:"detected_at"`
	LastSeen        time.Time `json:"last_seen"`
	OccurrenceCount int       `json:"occurrence_count"`
	Value           float64   `json:"value"`
	ExpectedLow     float64   `json:"expected_low"`
	ExpectedHigh    float64   `json:"expected_high"`
	RawScore        float64   `json:"raw_score"`
	NormalizedScore float64   `json:"normalized_score"`
	Severity        Severity  `json:"severity"`
	Status          string    `json:"status"`
	Context         string    `json:"context,omitempty"`
	Resolution      string    `json:"resolution,omitempty"`
	FalsePositive   bool      `json:"is_false_positive,omitempty"`
}

// IsOpen reports whether the detection can still absorb occurrences.
func (d *AnomalyDetection) IsOpen() bool {
	switch d.Status {
	case StatusNew, StatusAcknowledged, StatusInvestigating:
		return true
	}
	return false
}

// AlertEvent is handed to the external alert dispatcher. Delivery is the
// dispatcher's problem; this subsystem only emits.
type AlertEvent struct {
	Type            string   `json:"type"`
	WorkspaceID     string   `json:"workspace_id"`
	AnomalyID       string   `json:"anomaly_id"`
	MetricType      string   `json:"metric_type"`
	Severity        Severity `json:"severity"`
	NormalizedScore float64  `json:"normalized_score"`
}

// DefaultDebounceWindow groups repeated detections of the same anomaly.
const DefaultDebounceWindow = 15 * time.Minute

// Fingerprint computes the dedup key for a detection. It is a pure function
// of its inputs so every worker computes the same key for the same anomaly:
// the timestamp is truncated to the debounce window to form the time bucket.
func Fingerprint(workspaceID, metricType, method string, at time.Time, window time.Duration) string {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	bucket := at.UTC().Truncate(window).Unix()
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%d", workspaceID, metricType, method, bucket)
	return fmt.Sprintf("%016x", h.Sum64())
}
