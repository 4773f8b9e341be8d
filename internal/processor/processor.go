// internal/processor/processor.go
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/alert"
	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/baseline"
	"github.com/charannyk06/shadower-analytics/internal/detector"
	"github.com/charannyk06/shadower-analytics/internal/lifecycle"
	"github.com/charannyk06/shadower-analytics/internal/metrics"
	"github.com/charannyk06/shadower-analytics/internal/rules"
)

// Config tunes the stream processor.
type Config struct {
	Partitions     int           `yaml:"partitions"`
	QueueSize      int           `yaml:"queue_size"`
	MethodTimeout  time.Duration `yaml:"method_timeout"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	BatchInterval  time.Duration `yaml:"batch_interval"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	UpsertRetries  int           `yaml:"upsert_retries"`
	UpsertBackoff  time.Duration `yaml:"upsert_backoff"`
	WindowSize     int           `yaml:"window_size"`
}

// ApplyDefaults fills in default values.
func (c *Config) ApplyDefaults() {
	if c.Partitions == 0 {
		c.Partitions = 8
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.MethodTimeout == 0 {
		c.MethodTimeout = 200 * time.Millisecond
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.BatchInterval == 0 {
		c.BatchInterval = 5 * time.Minute
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = anomaly.DefaultDebounceWindow
	}
	if c.UpsertRetries == 0 {
		c.UpsertRetries = 3
	}
	if c.UpsertBackoff == 0 {
		c.UpsertBackoff = 50 * time.Millisecond
	}
	if c.WindowSize == 0 {
		c.WindowSize = 256
	}
}

// RuleResult is one rule's evaluation, returned by on-demand detection.
type RuleResult struct {
	RuleID          string           `json:"rule_id"`
	Method          detector.Kind    `json:"method"`
	RawScore        float64          `json:"raw_score"`
	Confidence      float64          `json:"confidence"`
	NormalizedScore float64          `json:"normalized_score"`
	Severity        anomaly.Severity `json:"severity"`
	Anomalous       bool             `json:"anomalous"`
	Warning         string           `json:"warning,omitempty"`

	expected [2]float64
}

// candidate pairs a scored detection with its alerting policy.
type candidate struct {
	lifecycle.Candidate
	autoAlert bool
}

// Processor drives the detection pipeline: events come in, get routed to a
// partition lane by (workspace, metric) key, and each lane evaluates its
// events strictly in order so baseline updates never race per key.
type Processor struct {
	cfg        Config
	rules      *rules.Engine
	baselines  *baseline.Store
	scorer     *detector.Scorer
	lifecycle  *lifecycle.Manager
	dispatcher alert.Dispatcher
	logger     *zap.Logger

	lanes   []chan anomaly.MetricEvent
	windows *windowSet

	// methods resolves a rule's kind to its detection method. Swappable in
	// tests to exercise timeout and panic isolation.
	methods func(detector.Kind) (detector.Method, error)
}

// New creates a stream processor.
func New(cfg Config, ruleEngine *rules.Engine, baselines *baseline.Store,
	scorer *detector.Scorer, lm *lifecycle.Manager, dispatcher alert.Dispatcher,
	logger *zap.Logger) *Processor {

	cfg.ApplyDefaults()
	p := &Processor{
		cfg:        cfg,
		rules:      ruleEngine,
		baselines:  baselines,
		scorer:     scorer,
		lifecycle:  lm,
		dispatcher: dispatcher,
		logger:     logger,
		windows:    newWindowSet(cfg.WindowSize),
		methods:    detector.ForKind,
	}
	p.lanes = make([]chan anomaly.MetricEvent, cfg.Partitions)
	for i := range p.lanes {
		p.lanes[i] = make(chan anomaly.MetricEvent, cfg.QueueSize)
	}
	return p
}

// Start launches one worker per partition lane plus the batch scheduler.
// Workers run until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i, lane := range p.lanes {
		go p.runLane(ctx, i, lane)
	}
	go p.runBatch(ctx)
}

// Submit routes an event to its partition lane. Events sharing a key always
// land on the same lane, preserving per-key ordering. A full lane drops the
// event rather than blocking the producer; drops are counted per partition.
func (p *Processor) Submit(ev anomaly.MetricEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	idx := p.partition(ev.Key())
	select {
	case p.lanes[idx] <- ev:
		metrics.EventsTotal.WithLabelValues(ev.MetricType).Inc()
		metrics.QueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(p.lanes[idx])))
	default:
		metrics.EventsDropped.WithLabelValues(strconv.Itoa(idx)).Inc()
	}
	return nil
}

func (p *Processor) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

func (p *Processor) runLane(ctx context.Context, id int, lane <-chan anomaly.MetricEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-lane:
			p.processEvent(ctx, ev)
			metrics.QueueDepth.WithLabelValues(strconv.Itoa(id)).Set(float64(len(lane)))
		}
	}
}

// processEvent runs one event through resolution, scoring, dedup and
// alerting, then folds the value into the baseline regardless of outcome so
// the model tracks genuine trend shifts.
func (p *Processor) processEvent(ctx context.Context, ev anomaly.MetricEvent) {
	active := p.rules.Resolve(ev.WorkspaceID, ev.MetricType)

	var snap *baseline.Snapshot
	if got, err := p.baselines.Get(ev.WorkspaceID, ev.MetricType); err == nil {
		snap = &got
	} else {
		p.logger.Debug("no baseline, statistical methods degraded to threshold-only",
			zap.String("workspace_id", ev.WorkspaceID),
			zap.String("metric_type", ev.MetricType))
	}

	hasBatch := false
	byFingerprint := map[string]candidate{}
	for _, rule := range active {
		if !rule.Method.Realtime() {
			hasBatch = true
			continue
		}
		res := p.evaluate(ctx, rule, detector.Input{
			Value:     ev.Value,
			Timestamp: ev.Timestamp,
			Baseline:  snap,
		}, p.cfg.MethodTimeout)
		if res.Warning != "" || !res.Anomalous {
			continue
		}
		p.collect(byFingerprint, rule, ev.WorkspaceID, ev.MetricType, ev.Value, ev.Timestamp, res)
	}

	for _, c := range byFingerprint {
		p.persistAndAlert(ctx, c)
	}

	// Step 5: the baseline always adapts, anomaly or not.
	p.baselines.UpdateIncremental(ev.WorkspaceID, ev.MetricType, ev.Value)

	if hasBatch {
		p.windows.push(ev.Key(), detector.Point{Value: ev.Value, Timestamp: ev.Timestamp})
	}
}

// evaluate runs one rule's method with a per-call timeout and panic
// isolation: a misbehaving method fails alone, the rest of the rules still
// run for the event.
func (p *Processor) evaluate(ctx context.Context, rule *rules.Rule, in detector.Input, timeout time.Duration) RuleResult {
	result := RuleResult{RuleID: rule.ID, Method: rule.Method}

	method, err := p.methods(rule.Method)
	if err != nil {
		result.Warning = err.Error()
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		raw detector.RawScore
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("processor: method %s panicked: %v", rule.Method, r)}
			}
		}()
		raw, err := method.Score(callCtx, in, rule.Parameters)
		done <- outcome{raw: raw, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: fmt.Errorf("processor: method %s timed out after %s", rule.Method, timeout)}
	}
	metrics.DetectionDuration.WithLabelValues(string(rule.Method)).Observe(time.Since(start).Seconds())

	if out.err != nil {
		metrics.MethodFailures.WithLabelValues(string(rule.Method)).Inc()
		if !errors.Is(out.err, detector.ErrNoBaseline) && !errors.Is(out.err, detector.ErrShortWindow) {
			p.logger.Warn("detection method failed",
				zap.String("rule_id", rule.ID),
				zap.String("method", string(rule.Method)),
				zap.Error(out.err))
		}
		result.Warning = out.err.Error()
		return result
	}

	result.RawScore = out.raw.Score
	result.Confidence = out.raw.Confidence
	result.NormalizedScore, result.Severity = p.scorer.Normalize(rule.Method, out.raw, rule.Parameters)
	result.Anomalous = anomalous(rule.Method, out.raw, rule.Parameters)
	result.expected = [2]float64{out.raw.ExpectedLow, out.raw.ExpectedHigh}
	return result
}

// anomalous decides whether a raw score fires at all; normalization and
// severity come afterwards. Sensitivity gates the z-like methods here, so
// raw scores stay reusable across rules with different sensitivities.
func anomalous(kind detector.Kind, raw detector.RawScore, p detector.Params) bool {
	switch kind {
	case detector.KindZScore, detector.KindAutoencoder:
		return raw.Score >= p.EffectiveSensitivity()
	case detector.KindThreshold:
		return raw.Score > 0
	case detector.KindIsolation:
		return raw.Score > 0.6
	}
	return false
}

// collect merges a firing rule into the per-fingerprint candidate set,
// keeping the maximum normalized score when several rules share a method.
func (p *Processor) collect(acc map[string]candidate, rule *rules.Rule,
	workspaceID, metricType string, value float64, at time.Time, res RuleResult) {

	fp := anomaly.Fingerprint(workspaceID, metricType, string(rule.Method), at, p.cfg.DebounceWindow)
	existing, ok := acc[fp]
	if ok && existing.NormalizedScore >= res.NormalizedScore {
		existing.autoAlert = existing.autoAlert || rule.AutoAlert
		acc[fp] = existing
		return
	}

	ctxJSON, _ := json.Marshal(map[string]interface{}{
		"rule_id":    rule.ID,
		"confidence": res.Confidence,
	})
	acc[fp] = candidate{
		Candidate: lifecycle.Candidate{
			Fingerprint:     fp,
			WorkspaceID:     workspaceID,
			MetricType:      metricType,
			Method:          string(rule.Method),
			Value:           value,
			ExpectedLow:     res.expected[0],
			ExpectedHigh:    res.expected[1],
			RawScore:        res.RawScore,
			NormalizedScore: res.NormalizedScore,
			Severity:        res.Severity,
			Context:         string(ctxJSON),
			SeenAt:          at,
		},
		autoAlert: existing.autoAlert || rule.AutoAlert,
	}
}

// persistAndAlert upserts one candidate with bounded backoff, then applies
// the alert-once rule: new anomalies and severity raises alert, occurrence
// bumps never do.
func (p *Processor) persistAndAlert(ctx context.Context, c candidate) {
	var det *anomaly.AnomalyDetection
	var outcome lifecycle.UpsertOutcome
	var err error

	backoff := p.cfg.UpsertBackoff
	for attempt := 0; attempt < p.cfg.UpsertRetries; attempt++ {
		det, outcome, err = p.lifecycle.Upsert(ctx, c.Candidate)
		if err == nil {
			break
		}
		metrics.UpsertRetries.Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		p.logger.Error("anomaly upsert failed, dropping detection",
			zap.String("fingerprint", c.Fingerprint),
			zap.Error(err))
		return
	}

	if !c.autoAlert || (!outcome.IsNew && !outcome.SeverityRaised) {
		if c.autoAlert {
			metrics.AlertsSuppressed.Inc()
		}
		return
	}
	_ = p.dispatcher.Dispatch(ctx, anomaly.AlertEvent{
		Type:            "anomaly_detected",
		WorkspaceID:     det.WorkspaceID,
		AnomalyID:       det.ID,
		MetricType:      det.MetricType,
		Severity:        det.Severity,
		NormalizedScore: det.NormalizedScore,
	})
}

// DetectNow evaluates a value against every rule for the key immediately,
// outside the streaming path, and reports partial results: degraded or
// skipped methods come back annotated instead of failing the whole request.
func (p *Processor) DetectNow(ctx context.Context, workspaceID, metricType string, value float64) []RuleResult {
	now := time.Now().UTC()
	active := p.rules.Resolve(workspaceID, metricType)

	var snap *baseline.Snapshot
	if got, err := p.baselines.Get(workspaceID, metricType); err == nil {
		snap = &got
	}

	window := p.windows.points(workspaceID + "|" + metricType)
	window = append(window, detector.Point{Value: value, Timestamp: now})

	results := make([]RuleResult, 0, len(active))
	byFingerprint := map[string]candidate{}
	for _, rule := range active {
		timeout := p.cfg.MethodTimeout
		if !rule.Method.Realtime() {
			timeout = p.cfg.BatchTimeout
		}
		res := p.evaluate(ctx, rule, detector.Input{
			Value:     value,
			Timestamp: now,
			Baseline:  snap,
			Window:    window,
		}, timeout)
		results = append(results, res)
		if res.Warning == "" && res.Anomalous {
			p.collect(byFingerprint, rule, workspaceID, metricType, value, now, res)
		}
	}
	for _, c := range byFingerprint {
		p.persistAndAlert(ctx, c)
	}
	return results
}
