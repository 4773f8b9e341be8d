// internal/processor/batch.go
package processor

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/baseline"
	"github.com/charannyk06/shadower-analytics/internal/detector"
)

// windowSet keeps a bounded ring of recent points per (workspace, metric)
// key, feeding the windowed detection methods.
type windowSet struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

func newWindowSet(capacity int) *windowSet {
	return &windowSet{capacity: capacity, rings: make(map[string]*ring)}
}

func (w *windowSet) push(key string, p detector.Point) {
	w.mu.Lock()
	r, ok := w.rings[key]
	if !ok {
		r = &ring{points: make([]detector.Point, w.capacity)}
		w.rings[key] = r
	}
	r.push(p)
	w.mu.Unlock()
}

// points returns the window for a key in arrival order, oldest first.
func (w *windowSet) points(key string) []detector.Point {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rings[key]
	if !ok {
		return nil
	}
	return r.ordered()
}

func (w *windowSet) keys() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.rings))
	for k := range w.rings {
		out = append(out, k)
	}
	return out
}

type ring struct {
	points []detector.Point
	next   int
	filled bool
}

func (r *ring) push(p detector.Point) {
	r.points[r.next] = p
	r.next++
	if r.next == len(r.points) {
		r.next = 0
		r.filled = true
	}
}

func (r *ring) ordered() []detector.Point {
	if !r.filled {
		out := make([]detector.Point, r.next)
		copy(out, r.points[:r.next])
		return out
	}
	out := make([]detector.Point, 0, len(r.points))
	out = append(out, r.points[r.next:]...)
	out = append(out, r.points[:r.next]...)
	return out
}

// runBatch wakes on a fixed cadence and runs the windowed methods over every
// key that has accumulated points. Results join the streaming path's upsert
// and alert flow, so dedup and alert-once behave identically for both.
func (p *Processor) runBatch(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.batchPass(ctx)
		}
	}
}

func (p *Processor) batchPass(ctx context.Context) {
	for _, key := range p.windows.keys() {
		workspaceID, metricType, ok := splitKey(key)
		if !ok {
			continue
		}
		window := p.windows.points(key)
		if len(window) == 0 {
			continue
		}

		var snap *baseline.Snapshot
		if got, err := p.baselines.Get(workspaceID, metricType); err == nil {
			snap = &got
		}

		last := window[len(window)-1]
		byFingerprint := map[string]candidate{}
		for _, rule := range p.rules.Resolve(workspaceID, metricType) {
			if rule.Method.Realtime() {
				continue
			}
			res := p.evaluate(ctx, rule, detector.Input{
				Value:     last.Value,
				Timestamp: last.Timestamp,
				Baseline:  snap,
				Window:    window,
			}, p.cfg.BatchTimeout)
			if res.Warning != "" || !res.Anomalous {
				continue
			}
			p.collect(byFingerprint, rule, workspaceID, metricType, last.Value, last.Timestamp, res)
		}
		for _, c := range byFingerprint {
			p.persistAndAlert(ctx, c)
		}
		if len(byFingerprint) > 0 {
			p.logger.Debug("batch pass detected anomalies",
				zap.String("workspace_id", workspaceID),
				zap.String("metric_type", metricType),
				zap.Int("count", len(byFingerprint)))
		}
	}
}

func splitKey(key string) (workspaceID, metricType string, ok bool) {
	i := strings.IndexByte(key, '|')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
