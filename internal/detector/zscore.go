// internal/detector/zscore.go
package detector

import (
	"context"
	"math"
)

// zeroStdSentinel is the raw score reported when variance is zero and the
// value deviates from the constant history. The method cannot express a
// magnitude without variance, only certainty.
const zeroStdSentinel = 1e6

// ZScore scores the absolute deviation from the baseline mean in standard
// deviations. Sensitivity is applied by the scorer during normalization, not
// here, so one raw score serves rules with different sensitivities.
type ZScore struct{}

// Kind implements Method.
func (ZScore) Kind() Kind { return KindZScore }

// Score implements Method.
func (ZScore) Score(_ context.Context, in Input, p Params) (RawScore, error) {
	if in.Baseline == nil || in.Baseline.SampleCount == 0 {
		return RawScore{}, ErrNoBaseline
	}

	snap := in.Baseline
	sensitivity := p.EffectiveSensitivity()
	out := RawScore{
		Confidence:   baselineConfidence(snap),
		ExpectedLow:  snap.Mean - sensitivity*snap.StdDev,
		ExpectedHigh: snap.Mean + sensitivity*snap.StdDev,
	}

	if snap.StdDev == 0 {
		// Constant history: either an exact match or a certain anomaly.
		if in.Value != snap.Mean {
			out.Score = zeroStdSentinel
		}
		return out, nil
	}

	out.Score = math.Abs(in.Value-snap.Mean) / snap.StdDev
	return out, nil
}
