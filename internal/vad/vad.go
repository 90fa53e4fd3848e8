// Package vad estimates per-frame volume and classifies frames as speech or silence.
package vad

import "math"

const (
	// Gain scales raw RMS (samples in [-1,1]) onto the 0-100 volume scale.
	Gain = 10000

	MaxVolume = 100
)

// Volume is a per-frame loudness estimate in [0, MaxVolume].
type Volume float64

// Estimate returns the floored, clamped RMS volume of samples.
func Estimate(samples []float64) Volume {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	v := math.Floor(rms * Gain)
	if v > MaxVolume {
		v = MaxVolume
	}
	if v < 0 {
		v = 0
	}
	return Volume(v)
}

// Classifier applies a fixed speech threshold with no hysteresis.
type Classifier struct {
	Threshold float64
}

// IsSpeech reports whether v is strictly above the threshold.
func (c Classifier) IsSpeech(v Volume) bool {
	return float64(v) > c.Threshold
}
