// internal/lifecycle/memory.go
package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

// MemoryStore is an in-memory Store with the same merge semantics as the
// Postgres store. Used by tests and single-node deployments without a
// database.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*anomaly.AnomalyDetection
	byOpen map[string]string // fingerprint -> id of open anomaly
}

// NewMemoryStore creates an in-memory anomaly store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*anomaly.AnomalyDetection),
		byOpen: make(map[string]string),
	}
}

// Upsert implements Store. The whole merge runs under one lock, giving the
// same convergence guarantee as the transactional SQL upsert.
func (s *MemoryStore) Upsert(_ context.Context, c Candidate) (*anomaly.AnomalyDetection, UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byOpen[c.Fingerprint]; ok {
		det := s.byID[id]
		det.OccurrenceCount++
		if c.SeenAt.After(det.LastSeen) {
			det.LastSeen = c.SeenAt
		}

		outcome := UpsertOutcome{}
		if c.NormalizedScore > det.NormalizedScore {
			det.NormalizedScore = c.NormalizedScore
			det.RawScore = c.RawScore
			det.Value = c.Value
			det.ExpectedLow = c.ExpectedLow
			det.ExpectedHigh = c.ExpectedHigh
		}
		if c.Severity.Rank() > det.Severity.Rank() {
			det.Severity = c.Severity
			outcome.SeverityRaised = true
		}
		out := *det
		return &out, outcome, nil
	}

	det := &anomaly.AnomalyDetection{
		ID:              uuid.New().String(),
		Fingerprint:     c.Fingerprint,
		WorkspaceID:     c.WorkspaceID,
		MetricType:      c.MetricType,
		Method:          c.Method,
		DetectedAt:      c.SeenAt,
		LastSeen:        c.SeenAt,
		OccurrenceCount: 1,
		Value:           c.Value,
		ExpectedLow:     c.ExpectedLow,
		ExpectedHigh:    c.ExpectedHigh,
		RawScore:        c.RawScore,
		NormalizedScore: c.NormalizedScore,
		Severity:        c.Severity,
		Status:          anomaly.StatusNew,
		Context:         c.Context,
	}
	s.byID[det.ID] = det
	s.byOpen[c.Fingerprint] = det.ID

	out := *det
	return &out, UpsertOutcome{IsNew: true}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*anomaly.AnomalyDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	det, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *det
	return &out, nil
}

// SetStatus implements Store.
func (s *MemoryStore) SetStatus(_ context.Context, id, status, resolution string, falsePositive bool) (*anomaly.AnomalyDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	det, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	det.Status = status
	if resolution != "" {
		det.Resolution = resolution
	}
	det.FalsePositive = falsePositive
	if !det.IsOpen() {
		// A closed anomaly no longer absorbs occurrences; the next one with
		// this fingerprint starts a fresh record.
		if s.byOpen[det.Fingerprint] == id {
			delete(s.byOpen, det.Fingerprint)
		}
	}
	out := *det
	return &out, nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*anomaly.AnomalyDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*anomaly.AnomalyDetection
	for _, det := range s.byID {
		if f.WorkspaceID != "" && det.WorkspaceID != f.WorkspaceID {
			continue
		}
		if f.MetricType != "" && det.MetricType != f.MetricType {
			continue
		}
		if f.Severity != "" && det.Severity != f.Severity {
			continue
		}
		if f.Status != "" && det.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && det.DetectedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && det.DetectedAt.After(f.To) {
			continue
		}
		copied := *det
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
