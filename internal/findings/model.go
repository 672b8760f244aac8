// Package findings holds the data model shared by the scan, plan and apply stages.
package findings

import (
	"fmt"
	"time"
)

// Scale is the abstraction level at which a defect manifests.
type Scale string

// Scale values, ordered from the most local to the most systemic.
const (
	ScaleMicro Scale = "micro" // variable / single line
	ScaleMeso  Scale = "meso"  // function / method
	ScaleMacro Scale = "macro" // type / subsystem
	ScaleMeta  Scale = "meta"  // system / architecture
)

// Scales lists every scale in ascending systemic order.
var Scales = []Scale{ScaleMicro, ScaleMeso, ScaleMacro, ScaleMeta}

// Rank returns the systemic order of the scale (micro=0 ... meta=3), or -1 if unknown.
func (s Scale) Rank() int {
	for i, v := range Scales {
		if v == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the four known scales.
func (s Scale) Valid() bool { return s.Rank() >= 0 }

// ParseScale converts a string into a Scale.
func ParseScale(v string) (Scale, error) {
	s := Scale(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown scale %q", v)
	}
	return s, nil
}

// ResonancePoint is a named remediation axis.
type ResonancePoint string

// Known resonance points.
const (
	PointNullGuard          ResonancePoint = "null_guard"
	PointInitialization     ResonancePoint = "initialization"
	PointSmartPointer       ResonancePoint = "smart_pointer"
	PointLifetimeManagement ResonancePoint = "lifetime_management"
	PointConstCorrectness   ResonancePoint = "const_correctness"
	PointErrorHandling      ResonancePoint = "error_handling"
	PointThreadSafety       ResonancePoint = "thread_safety"
	PointIncludeHygiene     ResonancePoint = "include_hygiene"
	PointModuleDependency   ResonancePoint = "module_dependency"
	PointAPIMigration       ResonancePoint = "api_migration"
)

// ResonancePoints lists every known resonance point.
var ResonancePoints = []ResonancePoint{
	PointNullGuard,
	PointInitialization,
	PointSmartPointer,
	PointLifetimeManagement,
	PointConstCorrectness,
	PointErrorHandling,
	PointThreadSafety,
	PointIncludeHygiene,
	PointModuleDependency,
	PointAPIMigration,
}

// Valid reports whether p is a known resonance point.
func (p ResonancePoint) Valid() bool {
	for _, v := range ResonancePoints {
		if v == p {
			return true
		}
	}
	return false
}

// ParseResonancePoint converts a string into a ResonancePoint.
func ParseResonancePoint(v string) (ResonancePoint, error) {
	p := ResonancePoint(v)
	if !p.Valid() {
		return "", fmt.Errorf("unknown resonance point %q", v)
	}
	return p, nil
}

// AmplitudeSpectrum holds the per-scale amplitudes of one pattern in one file.
type AmplitudeSpectrum struct {
	Micro float64 `json:"micro"`
	Meso  float64 `json:"meso"`
	Macro float64 `json:"macro"`
	Meta  float64 `json:"meta"`
}

// At returns the amplitude at the given scale.
func (s AmplitudeSpectrum) At(scale Scale) float64 {
	switch scale {
	case ScaleMicro:
		return s.Micro
	case ScaleMeso:
		return s.Meso
	case ScaleMacro:
		return s.Macro
	case ScaleMeta:
		return s.Meta
	}
	return 0
}

// Set stores a clamped amplitude at the given scale.
func (s *AmplitudeSpectrum) Set(scale Scale, v float64) {
	v = Clamp01(v)
	switch scale {
	case ScaleMicro:
		s.Micro = v
	case ScaleMeso:
		s.Meso = v
	case ScaleMacro:
		s.Macro = v
	case ScaleMeta:
		s.Meta = v
	}
}

// Max returns the largest amplitude in the spectrum.
func (s AmplitudeSpectrum) Max() float64 {
	m := s.Micro
	for _, sc := range Scales[1:] {
		if v := s.At(sc); v > m {
			m = v
		}
	}
	return m
}

// PatternMatch is a single occurrence of a defect signature in a file.
type PatternMatch struct {
	PatternType string   `json:"pattern_type"`
	SubPattern  string   `json:"sub_pattern,omitempty"`
	FilePath    string   `json:"file_path"`
	LineNumber  int      `json:"line_number"` // 1-based
	LineContent string   `json:"line_content"`
	MatchedText string   `json:"matched_text"`
	Scale       Scale    `json:"scale"`
	Amplitude   float64  `json:"amplitude"`
	Context     []string `json:"context,omitempty"`
}

// CascadePrediction is a template's prior estimate of downstream impact.
type CascadePrediction struct {
	FileImpact    float64 `json:"file_impact" yaml:"file_impact"`
	BuildImpact   float64 `json:"build_impact" yaml:"build_impact"`
	RuntimeImpact float64 `json:"runtime_impact" yaml:"runtime_impact"`
}

// Clamped returns a copy with every impact clamped to [0,1].
func (p CascadePrediction) Clamped() CascadePrediction {
	return CascadePrediction{
		FileImpact:    Clamp01(p.FileImpact),
		BuildImpact:   Clamp01(p.BuildImpact),
		RuntimeImpact: Clamp01(p.RuntimeImpact),
	}
}

// Intervention is a proposed, template-derived single-line edit.
type Intervention struct {
	ID                string            `json:"id"`
	PatternType       string            `json:"pattern_type"`
	ResonancePoint    ResonancePoint    `json:"resonance_point"`
	Description       string            `json:"description"`
	FilePath          string            `json:"file_path"`
	LineNumber        int               `json:"line_number"`
	OriginalCode      string            `json:"original_code"`
	ReplacementCode   string            `json:"replacement_code"`
	Pattern           string            `json:"pattern"`
	Replacement       string            `json:"replacement"`
	CascadePrediction CascadePrediction `json:"cascade_prediction"`
	Confidence        float64           `json:"confidence"`
	Prerequisites     []string          `json:"prerequisites,omitempty"`
}

// CascadeMeasurement is the measured downstream effect of an applied intervention.
type CascadeMeasurement struct {
	BaselineSpectrum  AmplitudeSpectrum `json:"baseline_spectrum"`
	NewSpectrum       AmplitudeSpectrum `json:"new_spectrum"`
	BaselineResonance float64           `json:"baseline_resonance"`
	NewResonance      float64           `json:"new_resonance"`
	ResonantShift     float64           `json:"resonant_shift"`
	FileImpact        float64           `json:"file_impact"`
	BuildImpact       float64           `json:"build_impact"`
	RuntimeImpact     float64           `json:"runtime_impact"`
	OverallScore      float64           `json:"overall_score"`
	AffectedFiles     []string          `json:"affected_files,omitempty"`
}

// InterventionResult is the outcome of applying one intervention.
type InterventionResult struct {
	Intervention  Intervention        `json:"intervention"`
	Success       bool                `json:"success"`
	Error         string              `json:"error,omitempty"`
	FilesModified []string            `json:"files_modified,omitempty"`
	Cascade       *CascadeMeasurement `json:"cascade,omitempty"`
	ExecutionTime time.Duration       `json:"execution_time"`
	BackupID      string              `json:"backup_id,omitempty"`
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
