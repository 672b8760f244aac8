// Package analysis holds the results of an analysis cycle: per-file findings,
// resonance analyses and planned interventions, plus their summaries.
package analysis

import (
	"sort"
	"time"

	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/resonance"
)

// FileResult is the analysis of one file.
type FileResult struct {
	File          string                      `json:"file"`
	Matches       []findings.PatternMatch     `json:"matches"`
	Analyses      []resonance.PatternAnalysis `json:"analyses"`
	Interventions []findings.Intervention     `json:"interventions"`
	Summary       FileSummary                 `json:"summary"`
	// SkipReason is set when the file was skipped instead of scanned.
	SkipReason string `json:"skip_reason,omitempty"`
}

// FileSummary condenses a FileResult.
type FileSummary struct {
	TotalMatches      int                    `json:"total_matches"`
	PatternTypes      []string               `json:"pattern_types"`
	ScaleCounts       map[findings.Scale]int `json:"scale_counts"`
	SystemicPatterns  []string               `json:"systemic_patterns"`
	InterventionCount int                    `json:"intervention_count"`
	MaxResonance      float64                `json:"max_resonance"`
	DominantScale     findings.Scale         `json:"dominant_scale,omitempty"`
}

// SkippedFile is a file the scan did not analyse.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Summary aggregates a project.
type Summary struct {
	FilesAnalyzed      int                    `json:"files_analyzed"`
	FilesWithMatches   int                    `json:"files_with_matches"`
	FilesSkipped       int                    `json:"files_skipped"`
	TotalMatches       int                    `json:"total_matches"`
	TotalInterventions int                    `json:"total_interventions"`
	PatternCounts      map[string]int         `json:"pattern_counts"`
	ScaleCounts        map[findings.Scale]int `json:"scale_counts"`
	SystemicPatterns   []string               `json:"systemic_patterns"`
	AverageCoherence   float64                `json:"average_coherence"`
}

// Project is the analysis of a set of files.
type Project struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Files       []FileResult            `json:"files"`
	Summary     Summary                 `json:"summary"`
	TopPatterns []catalog.RankedPattern `json:"top_patterns"`
	Skipped     []SkippedFile           `json:"skipped,omitempty"`
}

// Interventions returns every planned intervention in file order.
func (p *Project) Interventions() []findings.Intervention {
	var out []findings.Intervention
	for _, f := range p.Files {
		out = append(out, f.Interventions...)
	}
	return out
}

// Matches returns every match in file order.
func (p *Project) Matches() []findings.PatternMatch {
	var out []findings.PatternMatch
	for _, f := range p.Files {
		out = append(out, f.Matches...)
	}
	return out
}

// GroupByPattern splits matches by pattern type, keeping first-seen order.
func GroupByPattern(matches []findings.PatternMatch) ([]string, map[string][]findings.PatternMatch) {
	var order []string
	groups := make(map[string][]findings.PatternMatch)
	for _, m := range matches {
		if _, ok := groups[m.PatternType]; !ok {
			order = append(order, m.PatternType)
		}
		groups[m.PatternType] = append(groups[m.PatternType], m)
	}
	return order, groups
}

// Summarize fills fr.Summary from its matches, analyses and interventions.
func Summarize(fr *FileResult) {
	s := FileSummary{
		TotalMatches:      len(fr.Matches),
		PatternTypes:      []string{},
		ScaleCounts:       make(map[findings.Scale]int),
		SystemicPatterns:  []string{},
		InterventionCount: len(fr.Interventions),
	}
	s.PatternTypes, _ = GroupByPattern(fr.Matches)
	if s.PatternTypes == nil {
		s.PatternTypes = []string{}
	}
	for _, m := range fr.Matches {
		s.ScaleCounts[m.Scale]++
	}
	for _, a := range fr.Analyses {
		if a.Harmonics.IsSystemic {
			s.SystemicPatterns = append(s.SystemicPatterns, a.PatternType)
		}
		if a.ResonantAmplitude > s.MaxResonance || s.DominantScale == "" {
			s.MaxResonance = a.ResonantAmplitude
			s.DominantScale = a.ResonantScale
		}
	}
	fr.Summary = s
}

// Aggregate summarises a set of file results.
func Aggregate(files []FileResult, skipped int) Summary {
	s := Summary{
		FilesAnalyzed:    len(files),
		FilesSkipped:     skipped,
		PatternCounts:    make(map[string]int),
		ScaleCounts:      make(map[findings.Scale]int),
		SystemicPatterns: []string{},
	}
	systemic := make(map[string]bool)
	var coherence float64
	var analyses int
	for _, f := range files {
		if len(f.Matches) > 0 {
			s.FilesWithMatches++
		}
		s.TotalMatches += len(f.Matches)
		s.TotalInterventions += len(f.Interventions)
		for _, m := range f.Matches {
			s.PatternCounts[m.PatternType]++
			s.ScaleCounts[m.Scale]++
		}
		for _, a := range f.Analyses {
			coherence += a.Harmonics.Coherence
			analyses++
			if a.Harmonics.IsSystemic && !systemic[a.PatternType] {
				systemic[a.PatternType] = true
				s.SystemicPatterns = append(s.SystemicPatterns, a.PatternType)
			}
		}
	}
	sort.Strings(s.SystemicPatterns)
	if analyses > 0 {
		s.AverageCoherence = coherence / float64(analyses)
	}
	return s
}
