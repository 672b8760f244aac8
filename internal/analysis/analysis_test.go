package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/resonance"
)

func sampleFile() FileResult {
	fr := FileResult{
		File: "Actor.cpp",
		Matches: []findings.PatternMatch{
			{PatternType: "null_pointer_access", Scale: findings.ScaleMeso},
			{PatternType: "raw_new", Scale: findings.ScaleMicro},
			{PatternType: "null_pointer_access", Scale: findings.ScaleMeso},
		},
		Analyses: []resonance.PatternAnalysis{
			resonance.Analyze("null_pointer_access", findings.AmplitudeSpectrum{Micro: 0.5, Meso: 0.9}),
			resonance.Analyze("raw_new", findings.AmplitudeSpectrum{Micro: 0.4}),
		},
		Interventions: []findings.Intervention{{ID: "1"}},
	}
	Summarize(&fr)
	return fr
}

func TestGroupByPattern(t *testing.T) {
	order, groups := GroupByPattern(sampleFile().Matches)
	assert.Equal(t, []string{"null_pointer_access", "raw_new"}, order)
	assert.Len(t, groups["null_pointer_access"], 2)
}

func TestSummarize(t *testing.T) {
	s := sampleFile().Summary
	assert.Equal(t, 3, s.TotalMatches)
	assert.Equal(t, []string{"null_pointer_access", "raw_new"}, s.PatternTypes)
	assert.Equal(t, 2, s.ScaleCounts[findings.ScaleMeso])
	assert.Equal(t, []string{"null_pointer_access"}, s.SystemicPatterns)
	assert.Equal(t, 1, s.InterventionCount)
	assert.InDelta(t, 0.9, s.MaxResonance, 1e-9)
	assert.Equal(t, findings.ScaleMeso, s.DominantScale)

	empty := FileResult{File: "empty.cpp"}
	Summarize(&empty)
	assert.Zero(t, empty.Summary.TotalMatches)
	assert.NotNil(t, empty.Summary.PatternTypes)
	assert.Empty(t, empty.Summary.DominantScale)
}

func TestAggregate(t *testing.T) {
	files := []FileResult{sampleFile(), sampleFile(), {File: "clean.cpp"}}
	s := Aggregate(files, 2)

	assert.Equal(t, 3, s.FilesAnalyzed)
	assert.Equal(t, 2, s.FilesWithMatches)
	assert.Equal(t, 2, s.FilesSkipped)
	assert.Equal(t, 6, s.TotalMatches)
	assert.Equal(t, 2, s.TotalInterventions)
	assert.Equal(t, 4, s.PatternCounts["null_pointer_access"])
	assert.Equal(t, []string{"null_pointer_access"}, s.SystemicPatterns)
	assert.Greater(t, s.AverageCoherence, 0.0)

	p := Project{Files: files}
	assert.Len(t, p.Matches(), 6)
	assert.Len(t, p.Interventions(), 2)
}
