// internal/detector/autoencoder.go
package detector

import (
	"context"
	"math"
)

// Autoencoder bottleneck width and minimum window
const (
	autoencoderCode      = 8
	autoencoderMinWindow = 16
)

// Autoencoder is a sequence reconstruction method: the window is compressed
// into a small code of segment means and expanded back, and the raw score is
// the reconstruction error of the latest point relative to the window's
// spread. Best effort, batch cadence, opt-in per rule.
type Autoencoder struct{}

// Kind implements Method.
func (Autoencoder) Kind() Kind { return KindAutoencoder }

// Score implements Method.
func (Autoencoder) Score(_ context.Context, in Input, _ Params) (RawScore, error) {
	if len(in.Window) < autoencoderMinWindow {
		return RawScore{}, ErrShortWindow
	}

	values := make([]float64, len(in.Window))
	for i, pt := range in.Window {
		values[i] = pt.Value
	}

	reconstructed := decode(encode(values, autoencoderCode), len(values))

	// Spread of the window scales the error into z-like units.
	_, variance := windowStats(values)
	scale := math.Sqrt(variance)
	if scale == 0 {
		scale = 1
	}

	last := len(values) - 1
	err := math.Abs(values[last] - reconstructed[last])

	confidence := float64(len(values)) / float64(4*autoencoderMinWindow)
	if confidence > 1 {
		confidence = 1
	}
	return RawScore{
		Score:        err / scale,
		Confidence:   confidence,
		ExpectedLow:  reconstructed[last] - scale,
		ExpectedHigh: reconstructed[last] + scale,
	}, nil
}

// encode compresses the series to code segment means.
func encode(values []float64, code int) []float64 {
	if code > len(values) {
		code = len(values)
	}
	out := make([]float64, code)
	segment := float64(len(values)) / float64(code)
	for i := 0; i < code; i++ {
		start := int(float64(i) * segment)
		end := int(float64(i+1) * segment)
		if end > len(values) {
			end = len(values)
		}
		var sum float64
		for _, v := range values[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return out
}

// decode expands the code back to the original length by linear
// interpolation between segment means.
func decode(code []float64, length int) []float64 {
	out := make([]float64, length)
	if len(code) == 1 {
		for i := range out {
			out[i] = code[0]
		}
		return out
	}
	for i := 0; i < length; i++ {
		pos := float64(i) / float64(length-1) * float64(len(code)-1)
		lo := int(pos)
		hi := lo + 1
		if hi >= len(code) {
			out[i] = code[len(code)-1]
			continue
		}
		frac := pos - float64(lo)
		out[i] = code[lo]*(1-frac) + code[hi]*frac
	}
	return out
}

func windowStats(values []float64) (float64, float64) {
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
