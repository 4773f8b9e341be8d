// internal/baseline/store.go
package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/metrics"
)

// ErrColdStart is returned when no baseline model exists yet for a key.
// Callers skip statistical methods or fall back to baseline-free ones.
var ErrColdStart = errors.New("baseline: cold start, no model for key")

// DefaultMaxAge is how old a model may get before it is marked stale.
const DefaultMaxAge = 7 * 24 * time.Hour

// maxRetrainFailures marks a model degraded after this many consecutive
// retrain failures.
const maxRetrainFailures = 3

// HistoryProvider supplies the historical window used by Retrain. It is an
// external collaborator; only Retrain calls it.
type HistoryProvider interface {
	Values(ctx context.Context, workspaceID, metricType string, window time.Duration) ([]float64, error)
}

// Persister stores baseline models durably. Optional; a nil persister keeps
// models in memory only.
type Persister interface {
	SaveModel(ctx context.Context, snap Snapshot) error
	LoadModels(ctx context.Context) ([]Snapshot, error)
}

// Notifier receives internal (non-user) alerts, e.g. a model going degraded.
type Notifier interface {
	NotifyInternal(workspaceID, metricType, reason string)
}

// Snapshot is a read-only copy of one baseline model. Detection methods see
// only snapshots, never the live entry.
type Snapshot struct {
	WorkspaceID   string
	MetricType    string
	Mean          float64
	Variance      float64
	StdDev        float64
	Percentiles   map[string]float64
	SampleCount   int64
	TrainingStart time.Time
	TrainingEnd   time.Time
	LastUpdated   time.Time
	Status        string
}

// entry is the live state for one (workspace, metric) key. Each entry has its
// own lock; the store-level lock only guards the index.
type entry struct {
	mu sync.Mutex

	count int64
	mean  float64
	m2    float64

	percentiles   map[string]float64
	trainingStart time.Time
	trainingEnd   time.Time
	lastUpdated   time.Time
	status        string
	failures      int

	retraining bool
	pending    []float64
}

func (e *entry) variance() float64 {
	if e.count < 2 {
		return 0
	}
	return e.m2 / float64(e.count)
}

// welford applies one numerically stable streaming update.
func (e *entry) welford(value float64) {
	e.count++
	delta := value - e.mean
	e.mean += delta / float64(e.count)
	e.m2 += delta * (value - e.mean)
	e.lastUpdated = time.Now().UTC()
}

func (e *entry) snapshot(workspaceID, metricType string) Snapshot {
	variance := e.variance()
	pct := make(map[string]float64, len(e.percentiles))
	for k, v := range e.percentiles {
		pct[k] = v
	}
	return Snapshot{
		WorkspaceID:   workspaceID,
		MetricType:    metricType,
		Mean:          e.mean,
		Variance:      variance,
		StdDev:        math.Sqrt(variance),
		Percentiles:   pct,
		SampleCount:   e.count,
		TrainingStart: e.trainingStart,
		TrainingEnd:   e.trainingEnd,
		LastUpdated:   e.lastUpdated,
		Status:        e.status,
	}
}

// Store holds per-(workspace, metric) statistical baselines.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	history   HistoryProvider
	persister Persister
	notifier  Notifier
	logger    *zap.Logger

	maxAge time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPersister enables durable model storage.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithNotifier routes internal degradation alerts.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithMaxAge overrides the staleness threshold.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

// NewStore creates a baseline model store.
func NewStore(history HistoryProvider, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		history: history,
		logger:  logger,
		maxAge:  DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(workspaceID, metricType string) string {
	return workspaceID + "|" + metricType
}

func (s *Store) get(workspaceID, metricType string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key(workspaceID, metricType)]
	s.mu.RUnlock()
	return e, ok
}

func (s *Store) getOrCreate(workspaceID, metricType string) *entry {
	k := key(workspaceID, metricType)
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[k]; ok {
		return e
	}
	e = &entry{status: anomaly.ModelFresh, percentiles: map[string]float64{}}
	s.entries[k] = e
	return e
}

// Get returns a snapshot of the model for the key, or ErrColdStart.
func (s *Store) Get(workspaceID, metricType string) (Snapshot, error) {
	e, ok := s.get(workspaceID, metricType)
	if !ok {
		return Snapshot{}, ErrColdStart
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return Snapshot{}, ErrColdStart
	}
	return e.snapshot(workspaceID, metricType), nil
}

// UpdateIncremental folds one value into the running mean/variance. O(1) per
// event. Updates arriving during a retrain are queued on the entry and
// replayed after the new model is installed, never lost.
func (s *Store) UpdateIncremental(workspaceID, metricType string, value float64) {
	e := s.getOrCreate(workspaceID, metricType)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retraining {
		e.pending = append(e.pending, value)
		return
	}
	e.welford(value)
}

// Retrain recomputes the model from the full historical window and installs
// it atomically. Concurrent incremental updates queue behind the per-entry
// retraining flag and replay afterwards.
func (s *Store) Retrain(ctx context.Context, workspaceID, metricType string, window time.Duration) error {
	if s.history == nil {
		return fmt.Errorf("baseline: no history provider configured")
	}
	e := s.getOrCreate(workspaceID, metricType)

	e.mu.Lock()
	if e.retraining {
		e.mu.Unlock()
		return fmt.Errorf("baseline: retrain already in progress for %s/%s", workspaceID, metricType)
	}
	e.retraining = true
	e.mu.Unlock()

	values, err := s.history.Values(ctx, workspaceID, metricType, window)
	if err == nil && len(values) == 0 {
		err = fmt.Errorf("baseline: no history for %s/%s", workspaceID, metricType)
	}

	e.mu.Lock()
	defer func() {
		e.retraining = false
		e.pending = nil
		e.mu.Unlock()
	}()

	if err != nil {
		e.failures++
		metrics.RetrainsTotal.WithLabelValues("failure").Inc()
		if e.failures >= maxRetrainFailures && e.status != anomaly.ModelDegraded {
			e.status = anomaly.ModelDegraded
			metrics.ModelsDegraded.Inc()
			if s.notifier != nil {
				s.notifier.NotifyInternal(workspaceID, metricType, "baseline retrain failed repeatedly")
			}
		}
		// Replay queued updates into the last-known-good model so detection
		// keeps adapting while the model is degraded.
		for _, v := range e.pending {
			e.welford(v)
		}
		s.logger.Warn("baseline retrain failed",
			zap.String("workspace_id", workspaceID),
			zap.String("metric_type", metricType),
			zap.Int("consecutive_failures", e.failures),
			zap.Error(err))
		return fmt.Errorf("baseline: retrain %s/%s: %w", workspaceID, metricType, err)
	}

	mean, variance := meanVariance(values)
	now := time.Now().UTC()

	if e.status == anomaly.ModelDegraded {
		metrics.ModelsDegraded.Dec()
	}
	e.count = int64(len(values))
	e.mean = mean
	e.m2 = variance * float64(len(values))
	e.percentiles = percentiles(values)
	e.trainingStart = now.Add(-window)
	e.trainingEnd = now
	e.lastUpdated = now
	e.status = anomaly.ModelFresh
	e.failures = 0

	for _, v := range e.pending {
		e.welford(v)
	}
	metrics.RetrainsTotal.WithLabelValues("success").Inc()

	if s.persister != nil {
		snap := e.snapshot(workspaceID, metricType)
		if perr := s.persister.SaveModel(ctx, snap); perr != nil {
			s.logger.Warn("baseline model persist failed", zap.Error(perr))
		}
	}
	return nil
}

// MarkStaleModels flags models older than maxAge and returns their keys so a
// scheduler can retrain them.
func (s *Store) MarkStaleModels() [][2]string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	ents := make([]*entry, 0, len(s.entries))
	for k, e := range s.entries {
		keys = append(keys, k)
		ents = append(ents, e)
	}
	s.mu.RUnlock()

	var stale [][2]string
	cutoff := time.Now().UTC().Add(-s.maxAge)
	for i, e := range ents {
		e.mu.Lock()
		if e.count > 0 && e.status == anomaly.ModelFresh && e.lastUpdated.Before(cutoff) {
			e.status = anomaly.ModelStale
		}
		if e.status == anomaly.ModelStale || e.status == anomaly.ModelDegraded {
			ws, mt, ok := splitKey(keys[i])
			if ok {
				stale = append(stale, [2]string{ws, mt})
			}
		}
		e.mu.Unlock()
	}
	return stale
}

// StartMaintenance launches the background loop that marks stale models and
// retrains them until the context is cancelled. Returns immediately.
func (s *Store) StartMaintenance(ctx context.Context, interval, retrainWindow time.Duration) {
	go s.maintenanceLoop(ctx, interval, retrainWindow)
}

func (s *Store) maintenanceLoop(ctx context.Context, interval, retrainWindow time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, k := range s.MarkStaleModels() {
				if err := s.Retrain(ctx, k[0], k[1], retrainWindow); err != nil {
					s.logger.Debug("scheduled retrain failed", zap.Error(err))
				}
			}
		}
	}
}

// WarmStart loads persisted models into the registry at boot.
func (s *Store) WarmStart(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snaps, err := s.persister.LoadModels(ctx)
	if err != nil {
		return fmt.Errorf("baseline: warm start: %w", err)
	}
	for _, snap := range snaps {
		e := s.getOrCreate(snap.WorkspaceID, snap.MetricType)
		e.mu.Lock()
		e.count = snap.SampleCount
		e.mean = snap.Mean
		e.m2 = snap.Variance * float64(snap.SampleCount)
		e.percentiles = snap.Percentiles
		e.trainingStart = snap.TrainingStart
		e.trainingEnd = snap.TrainingEnd
		e.lastUpdated = snap.LastUpdated
		e.status = snap.Status
		e.mu.Unlock()
	}
	s.logger.Info("baseline warm start complete", zap.Int("models", len(snaps)))
	return nil
}

func splitKey(k string) (string, string, bool) {
	for i := 0; i < len(k); i++ {
		if k[i] == '|' {
			return k[:i], k[i+1:], true
		}
	}
	return "", "", false
}

func meanVariance(values []float64) (float64, float64) {
	var mean, m2 float64
	for i, v := range values {
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	if len(values) == 0 {
		return 0, 0
	}
	return mean, m2 / float64(len(values))
}

func percentiles(values []float64) map[string]float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	at := func(p float64) float64 {
		if len(sorted) == 0 {
			return 0
		}
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	return map[string]float64{
		"p50": at(0.50),
		"p90": at(0.90),
		"p95": at(0.95),
		"p99": at(0.99),
	}
}
