package catalog

import (
	"fmt"
	"regexp"

	"github.com/dejo1307/resonance/internal/findings"
)

// Severity is the ordinal severity of a defect signature.
type Severity string

// Severity values.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityWeights = map[Severity]float64{
	SeverityLow:      0.25,
	SeverityMedium:   0.5,
	SeverityHigh:     0.75,
	SeverityCritical: 1.0,
}

var severityAmplitudeBonus = map[Severity]float64{
	SeverityLow:      0,
	SeverityMedium:   0.1,
	SeverityHigh:     0.2,
	SeverityCritical: 0.3,
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if _, ok := severityWeights[s]; !ok {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// Weight returns the priority weight of the severity.
func (s Severity) Weight() float64 { return severityWeights[s] }

// AmplitudeBonus returns the amplitude bonus a match of this severity receives.
func (s Severity) AmplitudeBonus() float64 { return severityAmplitudeBonus[s] }

// SubPattern is one named detection regex of a signature.
type SubPattern struct {
	Name   string
	Regexp *regexp.Regexp
}

// EditKind tags the variant of an Edit.
type EditKind string

// EditMatchReplace is a single-line regex substitution.
const EditMatchReplace EditKind = "match_replace"

// Edit is a source transformation carried by a template. New kinds (multi-line
// edits, insertions) implement this interface without touching the planner or
// executor call sites.
type Edit interface {
	Kind() EditKind
	// Matches reports whether the edit applies to the line.
	Matches(line string) bool
	// Apply returns the transformed line and whether it changed.
	Apply(line string) (string, bool)
	// Source returns the pattern and replacement the edit was built from.
	Source() (pattern, replacement string)
}

// MatchReplace substitutes every match of Pattern in a line with Replacement.
type MatchReplace struct {
	Pattern     *regexp.Regexp
	Replacement string
	rawPattern  string
	rawRepl     string
}

var backrefPattern = regexp.MustCompile(`\\(\d+)`)

// NewMatchReplace compiles a match/replace edit. Replacement back-references may
// use either `$1`/`${1}` or `\1` syntax.
func NewMatchReplace(pattern, replacement string) (*MatchReplace, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	return &MatchReplace{
		Pattern:     re,
		Replacement: backrefPattern.ReplaceAllString(replacement, `$${$1}`),
		rawPattern:  pattern,
		rawRepl:     replacement,
	}, nil
}

func (m *MatchReplace) Kind() EditKind { return EditMatchReplace }

func (m *MatchReplace) Matches(line string) bool { return m.Pattern.MatchString(line) }

func (m *MatchReplace) Apply(line string) (string, bool) {
	out := m.Pattern.ReplaceAllString(line, m.Replacement)
	return out, out != line
}

func (m *MatchReplace) Source() (string, string) { return m.rawPattern, m.rawRepl }

// Template is an intervention template bound to one resonance point.
type Template struct {
	Point       findings.ResonancePoint
	Description string
	Prediction  findings.CascadePrediction
	Edit        Edit
}

// Signature is an immutable, catalog-loaded defect signature.
type Signature struct {
	Type            string
	Name            string
	Description     string
	Severity        Severity
	FrequencyWeight float64
	// Scales maps each scale to the construct labels it covers. Documentation only.
	Scales          map[findings.Scale][]string
	ResonancePoints []findings.ResonancePoint
	Patterns        []SubPattern
	Templates       []Template

	order int
}

// Template returns the template bound to the given resonance point.
func (s *Signature) Template(p findings.ResonancePoint) (Template, bool) {
	for _, t := range s.Templates {
		if t.Point == p {
			return t, true
		}
	}
	return Template{}, false
}

// Order returns the signature's position in the catalog.
func (s *Signature) Order() int { return s.order }
