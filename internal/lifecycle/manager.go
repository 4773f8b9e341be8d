// internal/lifecycle/manager.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/metrics"
)

// ErrNotFound is returned when an anomaly id does not exist.
var ErrNotFound = errors.New("lifecycle: anomaly not found")

// ErrNotesRequired is returned when resolve/ignore is attempted without notes.
var ErrNotesRequired = errors.New("lifecycle: notes are required to resolve or ignore")

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot transition from %s to %s", e.From, e.To)
}

// Candidate is one scored detection handed to Upsert.
type Candidate struct {
	Fingerprint     string
	WorkspaceID     string
	MetricType      string
	Method          string
	Value           float64
	ExpectedLow     float64
	ExpectedHigh    float64
	RawScore        float64
	NormalizedScore float64
	Severity        anomaly.Severity
	Context         string
	SeenAt          time.Time
}

// UpsertOutcome reports what the atomic upsert did, so the caller can apply
// the alert-once rule: alert on new anomalies and severity raises only.
type UpsertOutcome struct {
	IsNew          bool
	SeverityRaised bool
}

// Store is the persistence contract. Upsert must be atomic under concurrent
// callers racing on the same fingerprint.
type Store interface {
	Upsert(ctx context.Context, c Candidate) (*anomaly.AnomalyDetection, UpsertOutcome, error)
	Get(ctx context.Context, id string) (*anomaly.AnomalyDetection, error)
	SetStatus(ctx context.Context, id, status, resolution string, falsePositive bool) (*anomaly.AnomalyDetection, error)
	Query(ctx context.Context, f Filter) ([]*anomaly.AnomalyDetection, error)
}

// Filter narrows an anomaly query.
type Filter struct {
	WorkspaceID string
	MetricType  string
	Severity    anomaly.Severity
	Status      string
	From        time.Time
	To          time.Time
	Limit       int
}

// Manager owns anomaly records: deduplicating upserts and the status state
// machine.
type Manager struct {
	store  Store
	logger *zap.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Upsert merges a detection into the open anomaly with its fingerprint, or
// creates one. Score and severity only ever move upward on merge.
func (m *Manager) Upsert(ctx context.Context, c Candidate) (*anomaly.AnomalyDetection, UpsertOutcome, error) {
	if c.Fingerprint == "" {
		return nil, UpsertOutcome{}, fmt.Errorf("lifecycle: fingerprint is required")
	}
	if c.SeenAt.IsZero() {
		c.SeenAt = time.Now().UTC()
	}

	det, outcome, err := m.store.Upsert(ctx, c)
	if err != nil {
		return nil, UpsertOutcome{}, err
	}

	label := "merged"
	if outcome.IsNew {
		label = "new"
	}
	metrics.AnomaliesDetected.WithLabelValues(label, string(det.Severity)).Inc()
	return det, outcome, nil
}

// Acknowledge moves a new anomaly to acknowledged. Idempotent.
func (m *Manager) Acknowledge(ctx context.Context, id string) (*anomaly.AnomalyDetection, error) {
	return m.transition(ctx, id, anomaly.StatusAcknowledged, "", false)
}

// Investigate moves an anomaly to investigating. Idempotent.
func (m *Manager) Investigate(ctx context.Context, id string) (*anomaly.AnomalyDetection, error) {
	return m.transition(ctx, id, anomaly.StatusInvestigating, "", false)
}

// Resolve closes an anomaly with notes. Idempotent.
func (m *Manager) Resolve(ctx context.Context, id, notes string, falsePositive bool) (*anomaly.AnomalyDetection, error) {
	if notes == "" {
		return nil, ErrNotesRequired
	}
	return m.transition(ctx, id, anomaly.StatusResolved, notes, falsePositive)
}

// Ignore closes an anomaly as ignored, with notes. Idempotent.
func (m *Manager) Ignore(ctx context.Context, id, notes string, falsePositive bool) (*anomaly.AnomalyDetection, error) {
	if notes == "" {
		return nil, ErrNotesRequired
	}
	return m.transition(ctx, id, anomaly.StatusIgnored, notes, falsePositive)
}

// Query lists anomalies matching the filter.
func (m *Manager) Query(ctx context.Context, f Filter) ([]*anomaly.AnomalyDetection, error) {
	return m.store.Query(ctx, f)
}

// Get returns one anomaly.
func (m *Manager) Get(ctx context.Context, id string) (*anomaly.AnomalyDetection, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) transition(ctx context.Context, id, target, notes string, falsePositive bool) (*anomaly.AnomalyDetection, error) {
	det, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Re-applying the current status is a no-op, not an error.
	if det.Status == target {
		return det, nil
	}
	if !allowed(det.Status, target) {
		return nil, InvalidTransitionError{From: det.Status, To: target}
	}

	updated, err := m.store.SetStatus(ctx, id, target, notes, falsePositive)
	if err != nil {
		return nil, err
	}
	m.logger.Info("anomaly status changed",
		zap.String("anomaly_id", id),
		zap.String("from", det.Status),
		zap.String("to", target))
	return updated, nil
}

// allowed encodes the status state machine: new -> acknowledged ->
// investigating -> resolved|ignored. Closing is allowed from any open status;
// terminal states only accept their own re-application (handled above).
func allowed(from, to string) bool {
	switch to {
	case anomaly.StatusAcknowledged:
		return from == anomaly.StatusNew
	case anomaly.StatusInvestigating:
		return from == anomaly.StatusNew || from == anomaly.StatusAcknowledged
	case anomaly.StatusResolved, anomaly.StatusIgnored:
		return from == anomaly.StatusNew || from == anomaly.StatusAcknowledged || from == anomaly.StatusInvestigating
	}
	return false
}
