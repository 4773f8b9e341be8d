// internal/detector/zscore_test.go
package detector

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/baseline"
)

func snap(mean, std float64, samples int64) *baseline.Snapshot {
	return &baseline.Snapshot{
		Mean:        mean,
		StdDev:      std,
		Variance:    std * std,
		SampleCount: samples,
		Status:      anomaly.ModelFresh,
	}
}

func TestZScore_Score(t *testing.T) {
	method := ZScore{}

	t.Run("cold start returns ErrNoBaseline", func(t *testing.T) {
		_, err := method.Score(context.Background(), Input{Value: 10}, Params{})
		assert.ErrorIs(t, err, ErrNoBaseline)
	})

	t.Run("zero std and value equals mean scores exactly zero", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 5, Baseline: snap(5, 0, 100)}, Params{})
		require.NoError(t, err)
		assert.Zero(t, raw.Score)
	})

	t.Run("zero std and deviating value scores the sentinel", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 6, Baseline: snap(5, 0, 100)}, Params{})
		require.NoError(t, err)
		assert.Equal(t, float64(zeroStdSentinel), raw.Score)
	})

	t.Run("monotone in absolute deviation", func(t *testing.T) {
		base := snap(100, 10, 100)
		var prev float64
		for _, v := range []float64{100, 105, 110, 130, 180, 300} {
			raw, err := method.Score(context.Background(), Input{Value: v, Baseline: base}, Params{})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, raw.Score, prev)
			prev = raw.Score
		}
	})

	t.Run("known fixture scores critical", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 200, Baseline: snap(100, 10, 100)}, Params{Sensitivity: 2.5})
		require.NoError(t, err)
		assert.InEpsilon(t, 10.0, raw.Score, 1e-9)

		normalized, severity := NewScorer(NormalizerConfig{}).Normalize(KindZScore, raw, Params{Sensitivity: 2.5})
		assert.Equal(t, 1.0, normalized)
		assert.Equal(t, anomaly.SeverityCritical, severity)
	})

	t.Run("expected range follows sensitivity", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 100, Baseline: snap(100, 10, 100)}, Params{Sensitivity: 2.0})
		require.NoError(t, err)
		assert.Equal(t, 80.0, raw.ExpectedLow)
		assert.Equal(t, 120.0, raw.ExpectedHigh)
	})

	t.Run("small samples shrink confidence", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 100, Baseline: snap(100, 10, 3)}, Params{})
		require.NoError(t, err)
		assert.Less(t, raw.Confidence, 0.2)

		full, err := method.Score(context.Background(), Input{Value: 100, Baseline: snap(100, 10, 1000)}, Params{})
		require.NoError(t, err)
		assert.Equal(t, 1.0, full.Confidence)
	})

	t.Run("degraded model halves confidence", func(t *testing.T) {
		degraded := snap(100, 10, 1000)
		degraded.Status = anomaly.ModelDegraded
		raw, err := method.Score(context.Background(), Input{Value: 100, Baseline: degraded}, Params{})
		require.NoError(t, err)
		assert.Equal(t, 0.5, raw.Confidence)
	})
}

func TestThreshold_Score(t *testing.T) {
	method := Threshold{}
	min := func(v float64) *float64 { return &v }

	t.Run("breach magnitude is proportional", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 60}, Params{Min: min(0), Max: min(50)})
		require.NoError(t, err)
		assert.InEpsilon(t, 0.2, raw.Score, 1e-9)

		normalized, severity := NewScorer(NormalizerConfig{}).Normalize(KindThreshold, raw, Params{})
		assert.InEpsilon(t, 0.2, normalized, 1e-9)
		assert.Equal(t, anomaly.SeverityLow, severity)
	})

	t.Run("in-bounds scores zero", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 25}, Params{Min: min(0), Max: min(50)})
		require.NoError(t, err)
		assert.Zero(t, raw.Score)
	})

	t.Run("min breach with zero bound stays finite", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: -3}, Params{Min: min(0), Max: min(50)})
		require.NoError(t, err)
		assert.False(t, math.IsInf(raw.Score, 0))
		assert.Equal(t, 3.0, raw.Score)
	})

	t.Run("needs no baseline", func(t *testing.T) {
		raw, err := method.Score(context.Background(), Input{Value: 100}, Params{Max: min(50)})
		require.NoError(t, err)
		assert.Equal(t, 1.0, raw.Confidence)
		assert.Equal(t, 1.0, raw.Score)
	})
}

func TestScorer_SeverityBuckets(t *testing.T) {
	cases := []struct {
		normalized float64
		want       anomaly.Severity
	}{
		{0.0, anomaly.SeverityLow},
		{0.29, anomaly.SeverityLow},
		{0.3, anomaly.SeverityMedium},
		{0.59, anomaly.SeverityMedium},
		{0.6, anomaly.SeverityHigh},
		{0.84, anomaly.SeverityHigh},
		{0.85, anomaly.SeverityCritical},
		{1.0, anomaly.SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SeverityFor(tc.normalized), "score %v", tc.normalized)
	}
}

func TestScorer_ConfigurableCurve(t *testing.T) {
	scorer := NewScorer(NormalizerConfig{ZScoreSpan: 6})

	normalized, _ := scorer.Normalize(KindZScore, RawScore{Score: 7.5}, Params{Sensitivity: 2.5})
	assert.InEpsilon(t, 0.5, normalized, 1e-9)
}
