// Package report renders analysis and execution results as a compact markdown
// report sized for LLM consumption.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dejo1307/resonance/internal/analysis"
	"github.com/dejo1307/resonance/internal/executor"
	"github.com/dejo1307/resonance/internal/findings"
)

// DefaultMaxTokens is the token budget used when none is configured.
const DefaultMaxTokens = 4000

const (
	hotspotLimit      = 10
	interventionLimit = 25
	resultLimit       = 25
)

// Renderer produces the markdown report.
type Renderer struct {
	maxTokens int
}

// New creates a Renderer with the given token budget.
func New(maxTokens int) *Renderer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Renderer{maxTokens: maxTokens}
}

// ArtifactName is the file name the report is written under.
const ArtifactName = "report.md"

type section struct {
	name    string
	content string
}

// Render produces the report. batch may be nil when nothing was applied.
// Sections are ordered by priority; lower-priority sections are truncated or
// omitted first when the token budget is tight.
func (r *Renderer) Render(p *analysis.Project, batch *executor.BatchResult) []byte {
	sections := []section{
		{"Overview", renderOverview(p)},
		{"Systemic Patterns", renderSystemic(p)},
		{"Top Patterns", renderTopPatterns(p)},
		{"Execution Results", renderBatch(batch)},
		{"Hotspot Files", renderHotspots(p)},
		{"Planned Interventions", renderInterventions(p)},
		{"Skipped Files", renderSkipped(p)},
		{"Meta", renderMeta(p)},
	}
	return []byte(r.fit("# Resonance Report\n\n", sections))
}

func (r *Renderer) fit(header string, sections []section) string {
	maxChars := r.maxTokens * 4 // rough estimate: 1 token ~= 4 chars
	remaining := maxChars - len(header)

	var sb strings.Builder
	sb.WriteString(header)

	for i, sec := range sections {
		if sec.content == "" {
			continue
		}
		if len(sec.content) <= remaining {
			sb.WriteString(sec.content)
			remaining -= len(sec.content)
			continue
		}
		if remaining > 200 {
			sb.WriteString(cutAtLine(sec.content, remaining-100))
			sb.WriteString(fmt.Sprintf("\n\n---\n*[Truncated in: %s]*\n", sec.name))
			break
		}
		var omitted []string
		for _, s := range sections[i:] {
			if s.content != "" {
				omitted = append(omitted, s.name)
			}
		}
		sb.WriteString(fmt.Sprintf("\n\n---\n*[Omitted: %s]*\n", strings.Join(omitted, ", ")))
		break
	}
	return sb.String()
}

// cutAtLine truncates s to at most n bytes, backing up to the last full line.
func cutAtLine(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		return cut[:i]
	}
	return strings.ToValidUTF8(cut, "")
}

func renderOverview(p *analysis.Project) string {
	s := p.Summary
	var sb strings.Builder
	sb.WriteString("## Overview\n\n")
	sb.WriteString(fmt.Sprintf("- Files analyzed: %d (%d with matches, %d skipped)\n",
		s.FilesAnalyzed, s.FilesWithMatches, s.FilesSkipped))
	sb.WriteString(fmt.Sprintf("- Pattern matches: %d\n", s.TotalMatches))
	sb.WriteString(fmt.Sprintf("- Planned interventions: %d\n", s.TotalInterventions))
	sb.WriteString(fmt.Sprintf("- Average coherence: %.2f\n", s.AverageCoherence))

	if s.TotalMatches > 0 {
		var parts []string
		for _, sc := range findings.Scales {
			parts = append(parts, fmt.Sprintf("%s %d", sc, s.ScaleCounts[sc]))
		}
		sb.WriteString("- By scale: " + strings.Join(parts, ", ") + "\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderSystemic(p *analysis.Project) string {
	if len(p.Summary.SystemicPatterns) == 0 {
		return ""
	}

	// Files per systemic pattern, with the strongest analysis seen.
	type entry struct {
		files     int
		scale     findings.Scale
		amplitude float64
		coherence float64
	}
	entries := make(map[string]*entry)
	for _, f := range p.Files {
		for _, a := range f.Analyses {
			if !a.Harmonics.IsSystemic {
				continue
			}
			e, ok := entries[a.PatternType]
			if !ok {
				e = &entry{}
				entries[a.PatternType] = e
			}
			e.files++
			if a.ResonantAmplitude > e.amplitude {
				e.amplitude = a.ResonantAmplitude
				e.scale = a.ResonantScale
				e.coherence = a.Harmonics.Coherence
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("## Systemic Patterns\n\n")
	sb.WriteString("Patterns significant at two or more scales. Fix these at the resonant scale first.\n\n")
	sb.WriteString("| Pattern | Files | Resonant Scale | Amplitude | Coherence |\n")
	sb.WriteString("|---------|-------|----------------|-----------|-----------|\n")
	for _, pt := range p.Summary.SystemicPatterns {
		e := entries[pt]
		if e == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| `%s` | %d | %s | %.2f | %.2f |\n",
			pt, e.files, e.scale, e.amplitude, e.coherence))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderTopPatterns(p *analysis.Project) string {
	if len(p.TopPatterns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Top Patterns\n\n")
	sb.WriteString("| Pattern | Severity | Priority | Matches |\n")
	sb.WriteString("|---------|----------|----------|---------|\n")
	for _, rp := range p.TopPatterns {
		sb.WriteString(fmt.Sprintf("| `%s` | %s | %.3f | %d |\n",
			rp.PatternType, rp.Severity, rp.Priority, p.Summary.PatternCounts[rp.PatternType]))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderHotspots(p *analysis.Project) string {
	var files []analysis.FileResult
	for _, f := range p.Files {
		if f.Summary.TotalMatches > 0 {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return ""
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Summary.MaxResonance != files[j].Summary.MaxResonance {
			return files[i].Summary.MaxResonance > files[j].Summary.MaxResonance
		}
		return files[i].Summary.TotalMatches > files[j].Summary.TotalMatches
	})
	if len(files) > hotspotLimit {
		files = files[:hotspotLimit]
	}

	var sb strings.Builder
	sb.WriteString("## Hotspot Files\n\n")
	sb.WriteString("| File | Matches | Patterns | Dominant Scale | Max Resonance |\n")
	sb.WriteString("|------|---------|----------|----------------|---------------|\n")
	for _, f := range files {
		sb.WriteString(fmt.Sprintf("| `%s` | %d | %d | %s | %.2f |\n",
			f.File, f.Summary.TotalMatches, len(f.Summary.PatternTypes),
			f.Summary.DominantScale, f.Summary.MaxResonance))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderInterventions(p *analysis.Project) string {
	ivs := p.Interventions()
	if len(ivs) == 0 {
		return ""
	}
	sort.SliceStable(ivs, func(i, j int) bool {
		return ivs[i].Confidence > ivs[j].Confidence
	})

	var sb strings.Builder
	sb.WriteString("## Planned Interventions\n\n")
	for i, iv := range ivs {
		if i == interventionLimit {
			sb.WriteString(fmt.Sprintf("\n_%d more not shown._\n", len(ivs)-interventionLimit))
			break
		}
		sb.WriteString(fmt.Sprintf("- **%s** at `%s:%d` (%s, confidence %.2f)\n",
			iv.ResonancePoint, iv.FilePath, iv.LineNumber, iv.PatternType, iv.Confidence))
		sb.WriteString(fmt.Sprintf("  - `%s` -> `%s`\n",
			strings.TrimSpace(iv.OriginalCode), strings.TrimSpace(iv.ReplacementCode)))
		if len(iv.Prerequisites) > 0 {
			sb.WriteString(fmt.Sprintf("  - prerequisites: %s\n", strings.Join(iv.Prerequisites, ", ")))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderBatch(b *executor.BatchResult) string {
	if b == nil || b.Total == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Execution Results\n\n")
	sb.WriteString(fmt.Sprintf("%d of %d interventions applied (success rate %.0f%%, average cascade %.2f).\n",
		b.Successful, b.Total, b.SuccessRate*100, b.AvgCascadeScore))
	if b.RolledBack {
		sb.WriteString("\n**The batch was rolled back; no files were changed.**\n")
	}
	sb.WriteString("\n| Pattern | Location | Result | Cascade |\n")
	sb.WriteString("|---------|----------|--------|---------|\n")
	for i, res := range b.Results {
		if i == resultLimit {
			sb.WriteString(fmt.Sprintf("\n_%d more not shown._\n", len(b.Results)-resultLimit))
			break
		}
		iv := res.Intervention
		outcome := "ok"
		if !res.Success {
			outcome = "failed: " + res.Error
		}
		cascade := "-"
		if res.Cascade != nil {
			cascade = fmt.Sprintf("%.2f", res.Cascade.OverallScore)
		}
		sb.WriteString(fmt.Sprintf("| `%s` | `%s:%d` | %s | %s |\n",
			iv.PatternType, iv.FilePath, iv.LineNumber, outcome, cascade))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderSkipped(p *analysis.Project) string {
	if len(p.Skipped) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Skipped Files\n\n")
	for _, s := range p.Skipped {
		sb.WriteString(fmt.Sprintf("- `%s`: %s\n", s.Path, s.Reason))
	}
	sb.WriteString("\n")
	return sb.String()
}

func renderMeta(p *analysis.Project) string {
	generated := p.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	return fmt.Sprintf("---\n\n*Generated at %s. %d files, %d matches.*\n",
		generated.Format(time.RFC3339), p.Summary.FilesAnalyzed, p.Summary.TotalMatches)
}
