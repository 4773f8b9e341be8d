// internal/detector/threshold.go
package detector

import (
	"context"
	"math"
)

// Threshold scores proportional breach of user-configured min/max bounds.
// It needs no baseline and therefore stays available on cold start.
type Threshold struct{}

// Kind implements Method.
func (Threshold) Kind() Kind { return KindThreshold }

// Score implements Method.
func (Threshold) Score(_ context.Context, in Input, p Params) (RawScore, error) {
	out := RawScore{Confidence: 1}

	if p.Min != nil {
		out.ExpectedLow = *p.Min
	} else {
		out.ExpectedLow = math.Inf(-1)
	}
	if p.Max != nil {
		out.ExpectedHigh = *p.Max
	} else {
		out.ExpectedHigh = math.Inf(1)
	}

	var breach float64
	if p.Max != nil && in.Value > *p.Max {
		breach = (in.Value - *p.Max) / denom(*p.Max)
	}
	if p.Min != nil && in.Value < *p.Min {
		if b := (*p.Min - in.Value) / denom(*p.Min); b > breach {
			breach = b
		}
	}
	out.Score = breach
	return out, nil
}

// denom guards the proportional-breach division against zero bounds.
func denom(bound float64) float64 {
	if bound == 0 {
		return 1
	}
	return math.Abs(bound)
}
