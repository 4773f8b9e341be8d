// internal/lifecycle/manager_test.go
package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

func candidate(fp string, score float64, severity anomaly.Severity) Candidate {
	return Candidate{
		Fingerprint:     fp,
		WorkspaceID:     "ws-1",
		MetricType:      anomaly.MetricLatency,
		Method:          "zscore",
		Value:           200,
		RawScore:        10,
		NormalizedScore: score,
		Severity:        severity,
		SeenAt:          time.Now().UTC(),
	}
}

func TestManager_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("same fingerprint merges into one row", func(t *testing.T) {
		m := NewManager(NewMemoryStore(), zap.NewNop())

		first, outcome, err := m.Upsert(ctx, candidate("fp-1", 0.9, anomaly.SeverityCritical))
		require.NoError(t, err)
		assert.True(t, outcome.IsNew)
		assert.Equal(t, 1, first.OccurrenceCount)

		second, outcome, err := m.Upsert(ctx, candidate("fp-1", 0.9, anomaly.SeverityCritical))
		require.NoError(t, err)
		assert.False(t, outcome.IsNew)
		assert.False(t, outcome.SeverityRaised)
		assert.Equal(t, 2, second.OccurrenceCount)
		assert.Equal(t, first.ID, second.ID)

		all, err := m.Query(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("different fingerprint starts a new row", func(t *testing.T) {
		m := NewManager(NewMemoryStore(), zap.NewNop())

		_, _, err := m.Upsert(ctx, candidate("fp-bucket-1", 0.5, anomaly.SeverityMedium))
		require.NoError(t, err)
		_, outcome, err := m.Upsert(ctx, candidate("fp-bucket-2", 0.5, anomaly.SeverityMedium))
		require.NoError(t, err)
		assert.True(t, outcome.IsNew)

		all, err := m.Query(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("severity rises but never falls", func(t *testing.T) {
		m := NewManager(NewMemoryStore(), zap.NewNop())

		_, _, err := m.Upsert(ctx, candidate("fp-1", 0.4, anomaly.SeverityMedium))
		require.NoError(t, err)

		det, outcome, err := m.Upsert(ctx, candidate("fp-1", 0.9, anomaly.SeverityCritical))
		require.NoError(t, err)
		assert.True(t, outcome.SeverityRaised)
		assert.Equal(t, anomaly.SeverityCritical, det.Severity)
		assert.Equal(t, 0.9, det.NormalizedScore)

		det, outcome, err = m.Upsert(ctx, candidate("fp-1", 0.1, anomaly.SeverityLow))
		require.NoError(t, err)
		assert.False(t, outcome.SeverityRaised)
		assert.Equal(t, anomaly.SeverityCritical, det.Severity)
		assert.Equal(t, 0.9, det.NormalizedScore)
	})

	t.Run("closed anomaly does not absorb new occurrences", func(t *testing.T) {
		m := NewManager(NewMemoryStore(), zap.NewNop())

		first, _, err := m.Upsert(ctx, candidate("fp-1", 0.5, anomaly.SeverityMedium))
		require.NoError(t, err)
		_, err = m.Resolve(ctx, first.ID, "fixed upstream", false)
		require.NoError(t, err)

		second, outcome, err := m.Upsert(ctx, candidate("fp-1", 0.5, anomaly.SeverityMedium))
		require.NoError(t, err)
		assert.True(t, outcome.IsNew)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestManager_ConcurrentUpserts(t *testing.T) {
	m := NewManager(NewMemoryStore(), zap.NewNop())
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0

	for w := 0; w < workers; w++ {
		sev := anomaly.SeverityMedium
		if w%2 == 0 {
			sev = anomaly.SeverityHigh
		}
		wg.Add(1)
		go func(sev anomaly.Severity) {
			defer wg.Done()
			_, outcome, err := m.Upsert(ctx, candidate("fp-race", 0.5, sev))
			assert.NoError(t, err)
			if outcome.IsNew {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}(sev)
	}
	wg.Wait()

	assert.Equal(t, 1, newCount, "exactly one worker wins the insert")

	all, err := m.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, workers, all[0].OccurrenceCount)
	assert.Equal(t, anomaly.SeverityHigh, all[0].Severity)
}

func TestManager_Transitions(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), zap.NewNop())

	det, _, err := m.Upsert(ctx, candidate("fp-1", 0.5, anomaly.SeverityMedium))
	require.NoError(t, err)

	t.Run("acknowledge twice is idempotent", func(t *testing.T) {
		first, err := m.Acknowledge(ctx, det.ID)
		require.NoError(t, err)
		assert.Equal(t, anomaly.StatusAcknowledged, first.Status)

		second, err := m.Acknowledge(ctx, det.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.OccurrenceCount, second.OccurrenceCount)
	})

	t.Run("investigate then resolve with notes", func(t *testing.T) {
		_, err := m.Investigate(ctx, det.ID)
		require.NoError(t, err)

		resolved, err := m.Resolve(ctx, det.ID, "traffic surge from migration", true)
		require.NoError(t, err)
		assert.Equal(t, anomaly.StatusResolved, resolved.Status)
		assert.Equal(t, "traffic surge from migration", resolved.Resolution)
		assert.True(t, resolved.FalsePositive)
	})

	t.Run("resolved anomaly rejects reopening", func(t *testing.T) {
		_, err := m.Acknowledge(ctx, det.ID)
		var invalid InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, anomaly.StatusResolved, invalid.From)
	})

	t.Run("resolve without notes is rejected", func(t *testing.T) {
		fresh, _, err := m.Upsert(ctx, candidate("fp-2", 0.5, anomaly.SeverityMedium))
		require.NoError(t, err)
		_, err = m.Resolve(ctx, fresh.ID, "", false)
		assert.ErrorIs(t, err, ErrNotesRequired)
	})

	t.Run("ignore from new is allowed", func(t *testing.T) {
		fresh, _, err := m.Upsert(ctx, candidate("fp-3", 0.5, anomaly.SeverityMedium))
		require.NoError(t, err)
		ignored, err := m.Ignore(ctx, fresh.ID, "known benign batch job", false)
		require.NoError(t, err)
		assert.Equal(t, anomaly.StatusIgnored, ignored.Status)
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		_, err := m.Acknowledge(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore_Query(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), zap.NewNop())

	c1 := candidate("fp-a", 0.9, anomaly.SeverityCritical)
	c2 := candidate("fp-b", 0.2, anomaly.SeverityLow)
	c2.WorkspaceID = "ws-2"
	c2.MetricType = anomaly.MetricCost

	_, _, err := m.Upsert(ctx, c1)
	require.NoError(t, err)
	_, _, err = m.Upsert(ctx, c2)
	require.NoError(t, err)

	t.Run("filter by workspace", func(t *testing.T) {
		out, err := m.Query(ctx, Filter{WorkspaceID: "ws-2"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, anomaly.MetricCost, out[0].MetricType)
	})

	t.Run("filter by severity", func(t *testing.T) {
		out, err := m.Query(ctx, Filter{Severity: anomaly.SeverityCritical})
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("date range excludes older records", func(t *testing.T) {
		out, err := m.Query(ctx, Filter{From: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
