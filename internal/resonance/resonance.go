// Package resonance finds the scale at which a pattern resonates and how
// coherently it spans scales.
package resonance

import (
	"math"
	"sort"

	"github.com/dejo1307/resonance/internal/findings"
)

// SignificantAmplitude is the amplitude above which a scale counts as
// significant.
const SignificantAmplitude = 0.3

// Correlation is the harmonic correlation of two scales.
type Correlation struct {
	A     findings.Scale `json:"a"`
	B     findings.Scale `json:"b"`
	Value float64        `json:"value"`
}

// Harmonics describes how a spectrum spans scales.
type Harmonics struct {
	Correlations      []Correlation    `json:"correlations"`
	SignificantScales []findings.Scale `json:"significant_scales"`
	IsSystemic        bool             `json:"is_systemic"`
	Coherence         float64          `json:"coherence"`
}

// PatternAnalysis is the resonance analysis of one pattern in one file.
type PatternAnalysis struct {
	PatternType       string                     `json:"pattern_type"`
	Spectrum          findings.AmplitudeSpectrum `json:"spectrum"`
	ResonantScale     findings.Scale             `json:"resonant_scale"`
	ResonantAmplitude float64                    `json:"resonant_amplitude"`
	Harmonics         Harmonics                  `json:"harmonics"`
}

// ResonantScale returns the scale with the highest amplitude and that
// amplitude. Ties go to the more systemic scale.
func ResonantScale(sp findings.AmplitudeSpectrum) (findings.Scale, float64) {
	best := findings.ScaleMicro
	bestAmp := sp.At(best)
	for _, s := range findings.Scales[1:] {
		if a := sp.At(s); a >= bestAmp {
			best, bestAmp = s, a
		}
	}
	return best, bestAmp
}

// correlate is 1-|a-b| when both amplitudes are significant, else min(a,b).
func correlate(a, b float64) float64 {
	if a > SignificantAmplitude && b > SignificantAmplitude {
		return findings.Clamp01(1 - math.Abs(a-b))
	}
	return findings.Clamp01(math.Min(a, b))
}

// HarmonicAnalysis correlates every pair of scales. A pattern is systemic
// when at least two scales are significant. Coherence is the mean of the two
// highest of the six correlations, zeros included, so a lone non-zero
// correlation only counts for half.
func HarmonicAnalysis(sp findings.AmplitudeSpectrum) Harmonics {
	h := Harmonics{
		Correlations:      make([]Correlation, 0, 6),
		SignificantScales: []findings.Scale{},
	}
	for i, a := range findings.Scales {
		if sp.At(a) > SignificantAmplitude {
			h.SignificantScales = append(h.SignificantScales, a)
		}
		for _, b := range findings.Scales[i+1:] {
			h.Correlations = append(h.Correlations, Correlation{
				A:     a,
				B:     b,
				Value: correlate(sp.At(a), sp.At(b)),
			})
		}
	}
	h.IsSystemic = len(h.SignificantScales) >= 2

	values := make([]float64, 0, len(h.Correlations))
	for _, c := range h.Correlations {
		values = append(values, c.Value)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	if n := min(2, len(values)); n > 0 {
		var sum float64
		for _, v := range values[:n] {
			sum += v
		}
		h.Coherence = findings.Clamp01(sum / float64(n))
	}
	return h
}

// Analyze bundles the resonant scale and harmonics of one spectrum.
func Analyze(patternType string, sp findings.AmplitudeSpectrum) PatternAnalysis {
	scale, amp := ResonantScale(sp)
	return PatternAnalysis{
		PatternType:       patternType,
		Spectrum:          sp,
		ResonantScale:     scale,
		ResonantAmplitude: amp,
		Harmonics:         HarmonicAnalysis(sp),
	}
}
