// Package planner turns pattern matches into candidate interventions.
package planner

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/metrics"
)

// confidenceWeight discounts match amplitude into intervention confidence.
const confidenceWeight = 0.8

// compatibleScales lists the scales at which each remediation applies.
var compatibleScales = map[findings.ResonancePoint][]findings.Scale{
	findings.PointNullGuard:          {findings.ScaleMicro, findings.ScaleMeso},
	findings.PointInitialization:     {findings.ScaleMicro, findings.ScaleMeso, findings.ScaleMacro},
	findings.PointSmartPointer:       {findings.ScaleMicro, findings.ScaleMeso, findings.ScaleMacro},
	findings.PointLifetimeManagement: {findings.ScaleMeso, findings.ScaleMacro, findings.ScaleMeta},
	findings.PointConstCorrectness:   {findings.ScaleMicro, findings.ScaleMeso},
	findings.PointErrorHandling:      {findings.ScaleMeso, findings.ScaleMacro},
	findings.PointThreadSafety:       {findings.ScaleMeso, findings.ScaleMacro, findings.ScaleMeta},
	findings.PointIncludeHygiene:     {findings.ScaleMacro, findings.ScaleMeta},
	findings.PointModuleDependency:   {findings.ScaleMeta},
	findings.PointAPIMigration:       {findings.ScaleMicro, findings.ScaleMeso},
}

var prerequisites = map[findings.ResonancePoint][]string{
	findings.PointNullGuard: {
		"confirm a null value is legitimate at this call site",
	},
	findings.PointInitialization: {
		"verify the default value matches the intended semantics",
	},
	findings.PointSmartPointer: {
		"ensure the object is not owned by a garbage-collected container",
		"include the smart pointer header",
	},
	findings.PointLifetimeManagement: {
		"audit every owner of the object",
		"check for references that outlive the object",
	},
	findings.PointConstCorrectness: {
		"check that overrides and callers accept the const signature",
	},
	findings.PointErrorHandling: {
		"decide how callers react to the new failure path",
	},
	findings.PointThreadSafety: {
		"identify every thread that touches the shared state",
	},
	findings.PointIncludeHygiene: {
		"rebuild dependents to surface missing transitive includes",
	},
	findings.PointModuleDependency: {
		"update the build module dependency list",
	},
	findings.PointAPIMigration: {
		"confirm the replacement API exists in the targeted version",
	},
}

// Compatible reports whether a remediation applies at a scale.
func Compatible(p findings.ResonancePoint, s findings.Scale) bool {
	for _, c := range compatibleScales[p] {
		if c == s {
			return true
		}
	}
	return false
}

// Prerequisites returns the advisory prerequisites of a remediation.
func Prerequisites(p findings.ResonancePoint) []string {
	src := prerequisites[p]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Options tune planning.
type Options struct {
	// MinConfidence drops interventions below this confidence.
	MinConfidence float64
}

// Planner proposes interventions from the templates of a catalog.
type Planner struct {
	catalog *catalog.Catalog
	opts    Options
	logger  *zap.Logger
}

// New creates a Planner.
func New(cat *catalog.Catalog, opts Options, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{catalog: cat, opts: opts, logger: logger.Named("planner")}
}

type planKey struct {
	file        string
	line        int
	patternType string
	point       findings.ResonancePoint
}

// Plan returns the interventions for matches in match order, then template
// order. A (match, template) pair that cannot produce an edit is skipped;
// planning never fails as a whole. Several sub-patterns hitting one line yield
// a single intervention per remediation, at the position of the first and with
// the highest confidence among them.
func (p *Planner) Plan(matches []findings.PatternMatch) []findings.Intervention {
	var out []findings.Intervention
	seen := make(map[planKey]int)
	for _, m := range matches {
		sig, ok := p.catalog.Signature(m.PatternType)
		if !ok {
			p.logger.Debug("skipping match of unknown pattern", zap.String("pattern_type", m.PatternType))
			continue
		}
		multiplier := p.catalog.HistoricalMultiplier(m.PatternType)
		for _, tmpl := range sig.Templates {
			iv, reason := p.plan(m, tmpl, multiplier)
			if reason != "" {
				p.logger.Debug("planning skip",
					zap.String("pattern_type", m.PatternType),
					zap.String("resonance_point", string(tmpl.Point)),
					zap.String("file", m.FilePath),
					zap.Int("line", m.LineNumber),
					zap.String("reason", reason))
				continue
			}
			key := planKey{iv.FilePath, iv.LineNumber, iv.PatternType, iv.ResonancePoint}
			if i, dup := seen[key]; dup {
				if iv.Confidence > out[i].Confidence {
					iv.ID = out[i].ID
					out[i] = iv
				}
				continue
			}
			seen[key] = len(out)
			out = append(out, iv)
		}
	}
	metrics.InterventionsPlanned.Add(float64(len(out)))
	return out
}

func (p *Planner) plan(m findings.PatternMatch, tmpl catalog.Template, multiplier float64) (findings.Intervention, string) {
	if !Compatible(tmpl.Point, m.Scale) {
		return findings.Intervention{}, "scale incompatible"
	}
	if tmpl.Edit == nil || !tmpl.Edit.Matches(m.LineContent) {
		return findings.Intervention{}, "template does not match line"
	}
	replacement, changed := tmpl.Edit.Apply(m.LineContent)
	if !changed {
		return findings.Intervention{}, "template leaves line unchanged"
	}
	confidence := findings.Clamp01(m.Amplitude * confidenceWeight * multiplier)
	if confidence < p.opts.MinConfidence {
		return findings.Intervention{}, "below minimum confidence"
	}

	desc := tmpl.Description
	if desc == "" {
		desc = fmt.Sprintf("%s remediation for %s", tmpl.Point, m.PatternType)
	}
	pattern, repl := tmpl.Edit.Source()
	return findings.Intervention{
		ID:                uuid.NewString(),
		PatternType:       m.PatternType,
		ResonancePoint:    tmpl.Point,
		Description:       desc,
		FilePath:          m.FilePath,
		LineNumber:        m.LineNumber,
		OriginalCode:      m.LineContent,
		ReplacementCode:   replacement,
		Pattern:           pattern,
		Replacement:       repl,
		CascadePrediction: tmpl.Prediction,
		Confidence:        confidence,
		Prerequisites:     Prerequisites(tmpl.Point),
	}, ""
}
