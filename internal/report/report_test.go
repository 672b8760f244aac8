package report

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejo1307/resonance/internal/analysis"
	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/executor"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/resonance"
)

func makeProject(files int) *analysis.Project {
	p := &analysis.Project{GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	for i := 0; i < files; i++ {
		fr := analysis.FileResult{
			File: fmt.Sprintf("Source/Game/Actor%02d.cpp", i),
			Matches: []findings.PatternMatch{
				{PatternType: "null_pointer_access", Scale: findings.ScaleMeso, Amplitude: 0.8},
			},
			Analyses: []resonance.PatternAnalysis{
				resonance.Analyze("null_pointer_access", findings.AmplitudeSpectrum{Micro: 0.6, Meso: 0.8}),
			},
			Interventions: []findings.Intervention{{
				PatternType:     "null_pointer_access",
				ResonancePoint:  findings.PointNullGuard,
				FilePath:        fmt.Sprintf("Source/Game/Actor%02d.cpp", i),
				LineNumber:      12,
				OriginalCode:    "    Owner->Tick();",
				ReplacementCode: "    if (Owner) { Owner->Tick(); }",
				Confidence:      0.64,
				Prerequisites:   []string{"verify pointer ownership"},
			}},
		}
		analysis.Summarize(&fr)
		p.Files = append(p.Files, fr)
	}
	p.Skipped = []analysis.SkippedFile{{Path: "Binaries/Game.dll", Reason: "binary file"}}
	p.Summary = analysis.Aggregate(p.Files, len(p.Skipped))
	p.TopPatterns = []catalog.RankedPattern{
		{PatternType: "null_pointer_access", Severity: catalog.SeverityCritical, Priority: 0.64},
	}
	return p
}

func TestRender_Sections(t *testing.T) {
	batch := &executor.BatchResult{
		Total: 2, Successful: 1, Failed: 1, SuccessRate: 0.5, AvgCascadeScore: 0.4,
		Results: []findings.InterventionResult{
			{Intervention: findings.Intervention{PatternType: "null_pointer_access", FilePath: "a.cpp", LineNumber: 3},
				Success: true, Cascade: &findings.CascadeMeasurement{OverallScore: 0.4}},
			{Intervention: findings.Intervention{PatternType: "null_pointer_access", FilePath: "b.cpp", LineNumber: 9},
				Error: "line 9 out of range"},
		},
	}

	out := string(New(0).Render(makeProject(3), batch))

	for _, want := range []string{
		"# Resonance Report",
		"## Overview",
		"- Files analyzed: 3 (3 with matches, 1 skipped)",
		"## Systemic Patterns",
		"| `null_pointer_access` | 3 | meso | 0.80 |",
		"## Top Patterns",
		"## Execution Results",
		"1 of 2 interventions applied",
		"failed: line 9 out of range",
		"## Hotspot Files",
		"## Planned Interventions",
		"prerequisites: verify pointer ownership",
		"`Binaries/Game.dll`: binary file",
		"Generated at 2026-01-02T03:04:05Z",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "[Truncated")
	assert.NotContains(t, out, "[Omitted")
}

func TestRender_EmptyProject(t *testing.T) {
	p := &analysis.Project{}
	p.Summary = analysis.Aggregate(nil, 0)
	out := string(New(100).Render(p, nil))

	assert.Contains(t, out, "## Overview")
	assert.NotContains(t, out, "## Systemic Patterns")
	assert.NotContains(t, out, "## Execution Results")
	assert.NotContains(t, out, "## Hotspot Files")
}

func TestRender_RolledBackBatch(t *testing.T) {
	batch := &executor.BatchResult{Total: 1, Failed: 1, RolledBack: true,
		Results: []findings.InterventionResult{{Error: executor.RollbackMessage}}}
	out := string(New(0).Render(makeProject(1), batch))
	assert.Contains(t, out, "The batch was rolled back")
}

func TestRender_TokenBudget(t *testing.T) {
	tests := []struct {
		name      string
		maxTokens int
		want      string
	}{
		{"truncated", 300, "[Truncated in: Hotspot Files]"},
		{"omitted", 60, "[Omitted: Systemic Patterns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := string(New(tt.maxTokens).Render(makeProject(40), nil))
			assert.Contains(t, out, tt.want)
			// budget plus the marker line
			assert.LessOrEqual(t, len(out), tt.maxTokens*4+200)
		})
	}
}

func TestRender_TinyBudgetDoesNotPanic(t *testing.T) {
	for _, n := range []int{1, 5, 26, 50} {
		require.NotPanics(t, func() { New(n).Render(makeProject(5), nil) })
	}
}

func TestCutAtLine(t *testing.T) {
	s := "line one\nline two\nline three\n"
	assert.Equal(t, "line one\nline two", cutAtLine(s, 20))
	assert.Equal(t, s, cutAtLine(s, 100))
	assert.Equal(t, "", cutAtLine(s, 0))
	assert.Equal(t, "line", cutAtLine(s, 4))
	assert.True(t, strings.HasPrefix(cutAtLine("héllo", 2), "h"))
}
