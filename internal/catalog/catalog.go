package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dejo1307/resonance/internal/findings"
)

// ErrUnknownPattern is returned when a pattern type is not in the catalog.
var ErrUnknownPattern = errors.New("unknown pattern type")

// Catalog stores defect signatures and the mutable per-pattern history used to
// prioritise them. One instance is constructed per analysed project and shared
// by reference.
type Catalog struct {
	signatures []*Signature
	byType     map[string]*Signature

	mu      sync.Mutex
	history map[string]*historyEntry
}

// New creates a catalog from already-built signatures, preserving their order.
func New(sigs []*Signature) (*Catalog, error) {
	c := &Catalog{
		byType:  make(map[string]*Signature, len(sigs)),
		history: make(map[string]*historyEntry),
	}
	for i, s := range sigs {
		if s.Type == "" {
			return nil, fmt.Errorf("signature %d has empty type", i)
		}
		if _, dup := c.byType[s.Type]; dup {
			return nil, fmt.Errorf("duplicate pattern type %q", s.Type)
		}
		s.order = i
		c.signatures = append(c.signatures, s)
		c.byType[s.Type] = s
	}
	return c, nil
}

// Load reads a YAML catalog from disk.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return c, nil
}

// rawSignature mirrors one catalog entry before validation.
type rawSignature struct {
	Name            string              `yaml:"name"`
	Description     string              `yaml:"description"`
	Severity        string              `yaml:"severity"`
	FrequencyWeight float64             `yaml:"frequency_weight"`
	Scales          map[string][]string `yaml:"scales"`
	ResonancePoints []string            `yaml:"resonance_points"`
	Patterns        yaml.Node           `yaml:"patterns"`
	Templates       yaml.Node           `yaml:"intervention_templates"`
}

type rawTemplate struct {
	Kind              string                     `yaml:"kind"`
	Description       string                     `yaml:"description"`
	Pattern           string                     `yaml:"pattern"`
	Replacement       string                     `yaml:"replacement"`
	CascadePrediction findings.CascadePrediction `yaml:"cascade_prediction"`
}

// Parse builds a catalog from YAML. Mapping order is preserved and becomes the
// catalog order used for tie-breaking. Templates are compiled eagerly: a
// malformed template fails the whole load. A malformed detection sub-pattern is
// logged and dropped; the rest of its signature survives.
func Parse(data []byte, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return New(nil)
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("catalog root must be a mapping of pattern types")
	}

	var sigs []*Signature
	for i := 0; i+1 < len(doc.Content); i += 2 {
		patternType := doc.Content[i].Value
		var raw rawSignature
		if err := doc.Content[i+1].Decode(&raw); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", patternType, err)
		}
		sig, err := buildSignature(patternType, &raw, logger)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", patternType, err)
		}
		sigs = append(sigs, sig)
	}
	return New(sigs)
}

func buildSignature(patternType string, raw *rawSignature, logger *zap.Logger) (*Signature, error) {
	sev, err := ParseSeverity(raw.Severity)
	if err != nil {
		return nil, err
	}
	if raw.FrequencyWeight < 0 || raw.FrequencyWeight > 1 {
		return nil, fmt.Errorf("frequency_weight %v outside [0,1]", raw.FrequencyWeight)
	}

	sig := &Signature{
		Type:            patternType,
		Name:            raw.Name,
		Description:     raw.Description,
		Severity:        sev,
		FrequencyWeight: raw.FrequencyWeight,
		Scales:          make(map[findings.Scale][]string, len(raw.Scales)),
	}
	if sig.Name == "" {
		sig.Name = patternType
	}

	for k, labels := range raw.Scales {
		scale, err := findings.ParseScale(k)
		if err != nil {
			return nil, err
		}
		sig.Scales[scale] = labels
	}

	for _, p := range raw.ResonancePoints {
		point, err := findings.ParseResonancePoint(p)
		if err != nil {
			return nil, err
		}
		sig.ResonancePoints = append(sig.ResonancePoints, point)
	}

	for _, kv := range orderedEntries(&raw.Patterns, "pattern") {
		if kv.value.Kind != yaml.ScalarNode || kv.value.Value == "" {
			logger.Warn("skipping empty detection pattern",
				zap.String("pattern_type", patternType),
				zap.String("sub_pattern", kv.key))
			continue
		}
		re, err := regexp.Compile(kv.value.Value)
		if err != nil {
			logger.Warn("skipping malformed detection pattern",
				zap.String("pattern_type", patternType),
				zap.String("sub_pattern", kv.key),
				zap.Error(err))
			continue
		}
		sig.Patterns = append(sig.Patterns, SubPattern{Name: kv.key, Regexp: re})
	}

	for _, kv := range orderedEntries(&raw.Templates, "template") {
		point, err := findings.ParseResonancePoint(kv.key)
		if err != nil {
			return nil, fmt.Errorf("template: %w", err)
		}
		var rt rawTemplate
		if err := kv.value.Decode(&rt); err != nil {
			return nil, fmt.Errorf("template %q: %w", kv.key, err)
		}
		tmpl, err := buildTemplate(point, &rt)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", kv.key, err)
		}
		sig.Templates = append(sig.Templates, tmpl)
	}

	return sig, nil
}

func buildTemplate(point findings.ResonancePoint, rt *rawTemplate) (Template, error) {
	kind := EditKind(rt.Kind)
	if kind == "" {
		kind = EditMatchReplace
	}
	if kind != EditMatchReplace {
		return Template{}, fmt.Errorf("unsupported template kind %q", rt.Kind)
	}
	edit, err := NewMatchReplace(rt.Pattern, rt.Replacement)
	if err != nil {
		return Template{}, err
	}
	return Template{
		Point:       point,
		Description: rt.Description,
		Prediction:  rt.CascadePrediction.Clamped(),
		Edit:        edit,
	}, nil
}

type nodeEntry struct {
	key   string
	value *yaml.Node
}

// orderedEntries flattens a mapping (or a plain sequence, keyed by position)
// into its entries in document order.
func orderedEntries(n *yaml.Node, prefix string) []nodeEntry {
	var out []nodeEntry
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			out = append(out, nodeEntry{key: n.Content[i].Value, value: n.Content[i+1]})
		}
	case yaml.SequenceNode:
		for i, v := range n.Content {
			out = append(out, nodeEntry{key: fmt.Sprintf("%s_%d", prefix, i+1), value: v})
		}
	}
	return out
}

// Signature returns the signature for a pattern type.
func (c *Catalog) Signature(patternType string) (*Signature, bool) {
	s, ok := c.byType[patternType]
	return s, ok
}

// Signatures returns every signature in catalog order.
func (c *Catalog) Signatures() []*Signature {
	out := make([]*Signature, len(c.signatures))
	copy(out, c.signatures)
	return out
}

// Types returns every pattern type in catalog order.
func (c *Catalog) Types() []string {
	out := make([]string, len(c.signatures))
	for i, s := range c.signatures {
		out[i] = s.Type
	}
	return out
}

// Filter returns the signatures whose type is in types, in catalog order.
// Unknown types are ignored. An empty filter returns every signature.
func (c *Catalog) Filter(types []string) []*Signature {
	if len(types) == 0 {
		return c.Signatures()
	}
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*Signature
	for _, s := range c.signatures {
		if want[s.Type] {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of signatures.
func (c *Catalog) Len() int { return len(c.signatures) }
