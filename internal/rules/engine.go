// internal/rules/engine.go
package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/detector"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("rules: rule not found")

// ErrDuplicate is returned when an active rule already covers the same
// (workspace, metric, method) combination.
var ErrDuplicate = errors.New("rules: duplicate active rule")

// Rule binds a detection method and its parameters to a metric type, either
// for one workspace or globally (empty WorkspaceID).
type Rule struct {
	ID            string          `json:"id"`
	WorkspaceID   string          `json:"workspace_id,omitempty"`
	MetricType    string          `json:"metric_type"`
	Method        detector.Kind   `json:"method"`
	Parameters    detector.Params `json:"parameters"`
	Active        bool            `json:"active"`
	AutoAlert     bool            `json:"auto_alert"`
	AlertChannels []string        `json:"alert_channels,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Global reports whether the rule applies to every workspace.
func (r *Rule) Global() bool { return r.WorkspaceID == "" }

// Validate rejects invalid configuration synchronously, before a rule can
// ever reach the stream processor.
func (r *Rule) Validate() error {
	if r.MetricType == "" {
		return errors.New("rules: metric_type is required")
	}
	if _, err := detector.ParseKind(string(r.Method)); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if r.Method == detector.KindThreshold && r.Parameters.Min == nil && r.Parameters.Max == nil {
		return errors.New("rules: threshold rule needs a min or max bound")
	}
	if r.Parameters.Min != nil && r.Parameters.Max != nil && *r.Parameters.Min > *r.Parameters.Max {
		return errors.New("rules: min bound exceeds max bound")
	}
	if r.Parameters.Sensitivity < 0 {
		return errors.New("rules: sensitivity must be non-negative")
	}
	return nil
}

// Store persists rules. The engine is the only writer.
type Store interface {
	SaveRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error
	LoadRules(ctx context.Context) ([]*Rule, error)
}

// index is the immutable lookup structure swapped atomically on every rule
// change, so resolvers never take a lock.
type index struct {
	exact  map[string][]*Rule // workspace|metric -> rules
	global map[string][]*Rule // metric -> global default rules
}

// Engine owns the rule set: CRUD with validation plus lock-free resolution.
type Engine struct {
	mu     sync.Mutex // serializes writers
	rules  map[string]*Rule
	idx    atomic.Value // *index
	store  Store
	logger *zap.Logger
}

// NewEngine creates a rule engine. store may be nil for in-memory operation.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	e := &Engine{
		rules:  make(map[string]*Rule),
		store:  store,
		logger: logger,
	}
	e.idx.Store(&index{exact: map[string][]*Rule{}, global: map[string][]*Rule{}})
	return e
}

// Load replaces the rule set from the store at boot.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	loaded, err := e.store.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("rules: load: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*Rule, len(loaded))
	for _, r := range loaded {
		e.rules[r.ID] = r
	}
	e.rebuildLocked()
	e.logger.Info("rules loaded", zap.Int("count", len(loaded)))
	return nil
}

// Create validates and adds a rule.
func (e *Engine) Create(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := e.checkUniqueLocked(rule); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if e.store != nil {
		if err := e.store.SaveRule(ctx, rule); err != nil {
			return nil, fmt.Errorf("rules: save: %w", err)
		}
	}
	e.rules[rule.ID] = rule
	e.rebuildLocked()
	return rule, nil
}

// Update validates and replaces a rule.
func (e *Engine) Update(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.rules[rule.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := e.checkUniqueLocked(rule); err != nil {
		return nil, err
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if e.store != nil {
		if err := e.store.SaveRule(ctx, rule); err != nil {
			return nil, fmt.Errorf("rules: save: %w", err)
		}
	}
	e.rules[rule.ID] = rule
	e.rebuildLocked()
	return rule, nil
}

// Delete removes a rule.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return ErrNotFound
	}
	if e.store != nil {
		if err := e.store.DeleteRule(ctx, id); err != nil {
			return fmt.Errorf("rules: delete: %w", err)
		}
	}
	delete(e.rules, id)
	e.rebuildLocked()
	return nil
}

// Get returns a rule by id.
func (e *Engine) Get(id string) (*Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rule, nil
}

// List returns every rule.
func (e *Engine) List() []*Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// Resolve returns the active rules for a (workspace, metric) pair: the exact
// workspace matches plus any global defaults for the metric type. Lock-free;
// safe for concurrent use with writers.
func (e *Engine) Resolve(workspaceID, metricType string) []*Rule {
	idx := e.idx.Load().(*index)
	exact := idx.exact[workspaceID+"|"+metricType]
	global := idx.global[metricType]
	if len(global) == 0 {
		return exact
	}
	out := make([]*Rule, 0, len(exact)+len(global))
	out = append(out, exact...)
	out = append(out, global...)
	return out
}

// checkUniqueLocked enforces (workspace, metric, method) uniqueness among
// active rules so the same method is never evaluated twice for one key.
func (e *Engine) checkUniqueLocked(candidate *Rule) error {
	if !candidate.Active {
		return nil
	}
	for _, r := range e.rules {
		if r.ID == candidate.ID || !r.Active {
			continue
		}
		if r.WorkspaceID == candidate.WorkspaceID &&
			r.MetricType == candidate.MetricType &&
			r.Method == candidate.Method {
			return fmt.Errorf("%w for (%q, %s, %s)",
				ErrDuplicate, candidate.WorkspaceID, candidate.MetricType, candidate.Method)
		}
	}
	return nil
}

// rebuildLocked swaps in a fresh copy-on-write index.
func (e *Engine) rebuildLocked() {
	idx := &index{exact: map[string][]*Rule{}, global: map[string][]*Rule{}}
	for _, r := range e.rules {
		if !r.Active {
			continue
		}
		if r.Global() {
			idx.global[r.MetricType] = append(idx.global[r.MetricType], r)
			continue
		}
		k := r.WorkspaceID + "|" + r.MetricType
		idx.exact[k] = append(idx.exact[k], r)
	}
	e.idx.Store(idx)
}
