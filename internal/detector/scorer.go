// internal/detector/scorer.go
package detector

import (
	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

// Severity buckets shared by every method. Method-specific normalization
// maps raw scores into [0, 1]; these cut points then apply uniformly, so new
// methods never change severity semantics.
const (
	severityLowUpper    = 0.3
	severityMediumUpper = 0.6
	severityHighUpper   = 0.85
)

// NormalizerConfig makes the normalization curve tunable per deployment.
// Zero values fall back to the defaults below.
type NormalizerConfig struct {
	// ZScoreSpan: a z-score of sensitivity*span normalizes to 1.0.
	ZScoreSpan float64 `yaml:"zscore_span"`
	// AutoencoderSpan: a reconstruction error of span window deviations
	// normalizes to 1.0.
	AutoencoderSpan float64 `yaml:"autoencoder_span"`
	// IsolationMidpoint: forest scores at or below this count as normal.
	IsolationMidpoint float64 `yaml:"isolation_midpoint"`
}

const (
	defaultZScoreSpan        = 3
	defaultAutoencoderSpan   = 3
	defaultIsolationMidpoint = 0.5
)

// Scorer normalizes raw method scores into one comparable unit and derives
// severity.
type Scorer struct {
	cfg NormalizerConfig
}

// NewScorer creates a scorer; cfg fields left zero use defaults.
func NewScorer(cfg NormalizerConfig) *Scorer {
	if cfg.ZScoreSpan == 0 {
		cfg.ZScoreSpan = defaultZScoreSpan
	}
	if cfg.AutoencoderSpan == 0 {
		cfg.AutoencoderSpan = defaultAutoencoderSpan
	}
	if cfg.IsolationMidpoint == 0 {
		cfg.IsolationMidpoint = defaultIsolationMidpoint
	}
	return &Scorer{cfg: cfg}
}

// Normalize maps a raw score to [0, 1] and the uniform severity bucket.
func (s *Scorer) Normalize(kind Kind, raw RawScore, p Params) (float64, anomaly.Severity) {
	var normalized float64
	switch kind {
	case KindZScore:
		normalized = raw.Score / (p.EffectiveSensitivity() * s.cfg.ZScoreSpan)
	case KindThreshold:
		normalized = raw.Score
	case KindIsolation:
		span := 1 - s.cfg.IsolationMidpoint
		normalized = (raw.Score - s.cfg.IsolationMidpoint) / span
	case KindAutoencoder:
		normalized = raw.Score / s.cfg.AutoencoderSpan
	}

	normalized = clamp01(normalized)
	return normalized, SeverityFor(normalized)
}

// SeverityFor buckets a normalized score.
func SeverityFor(normalized float64) anomaly.Severity {
	switch {
	case normalized < severityLowUpper:
		return anomaly.SeverityLow
	case normalized < severityMediumUpper:
		return anomaly.SeverityMedium
	case normalized < severityHighUpper:
		return anomaly.SeverityHigh
	}
	return anomaly.SeverityCritical
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
