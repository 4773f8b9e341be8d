// internal/detector/method.go
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/baseline"
)

// Kind is the closed set of detection methods. Adding a method means adding
// a Kind plus a Method implementation, not string matching at call sites.
type Kind string

const (
	KindZScore      Kind = "zscore"
	KindThreshold   Kind = "threshold"
	KindIsolation   Kind = "isolation"
	KindAutoencoder Kind = "autoencoder"
)

// ParseKind validates a method name from rule configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindZScore, KindThreshold, KindIsolation, KindAutoencoder:
		return Kind(s), nil
	}
	return "", fmt.Errorf("detector: unknown method %q", s)
}

// Realtime reports whether the method scores per event. Batch methods run on
// their own cadence and join results asynchronously.
func (k Kind) Realtime() bool {
	return k == KindZScore || k == KindThreshold
}

// ErrNoBaseline is returned by statistical methods on cold start.
var ErrNoBaseline = errors.New("detector: no baseline model")

// ErrShortWindow is returned by batch methods when the observation window is
// too small to score.
var ErrShortWindow = errors.New("detector: observation window too small")

// Params are the per-rule tuning knobs shared by all methods. Unused fields
// are ignored by methods that do not need them.
type Params struct {
	Sensitivity float64  `json:"sensitivity,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	WindowSize  int      `json:"window_size,omitempty"`
	Seed        int64    `json:"seed,omitempty"`
}

// DefaultSensitivity applies when a rule leaves sensitivity unset.
const DefaultSensitivity = 2.5

// EffectiveSensitivity returns the configured or default sensitivity.
func (p Params) EffectiveSensitivity() float64 {
	if p.Sensitivity > 0 {
		return p.Sensitivity
	}
	return DefaultSensitivity
}

// Point is one observation in a batch method's window.
type Point struct {
	Value     float64
	Timestamp time.Time
}

// Input carries everything a method may score against. Baseline is a
// read-only snapshot (nil on cold start); Window is only populated for batch
// methods.
type Input struct {
	Value     float64
	Timestamp time.Time
	Baseline  *baseline.Snapshot
	Window    []Point
}

// RawScore is a method-specific score plus the confidence the method has in
// it given how much history backed the computation.
type RawScore struct {
	Score        float64
	Confidence   float64
	ExpectedLow  float64
	ExpectedHigh float64
}

// Method is the shared scoring contract.
type Method interface {
	Kind() Kind
	Score(ctx context.Context, in Input, p Params) (RawScore, error)
}

// ForKind returns the method implementation for a kind.
func ForKind(k Kind) (Method, error) {
	switch k {
	case KindZScore:
		return ZScore{}, nil
	case KindThreshold:
		return Threshold{}, nil
	case KindIsolation:
		return NewIsolation(), nil
	case KindAutoencoder:
		return Autoencoder{}, nil
	}
	return nil, fmt.Errorf("detector: unknown method %q", k)
}

// minSamplesFullConfidence is the sample count at which baseline-backed
// methods report full confidence.
const minSamplesFullConfidence = 30

// baselineConfidence derives confidence from how much data backs a model.
func baselineConfidence(snap *baseline.Snapshot) float64 {
	if snap == nil {
		return 0
	}
	c := float64(snap.SampleCount) / minSamplesFullConfidence
	if c > 1 {
		c = 1
	}
	if snap.Status == anomaly.ModelDegraded {
		c /= 2
	}
	return c
}
