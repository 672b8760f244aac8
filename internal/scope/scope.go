// Package scope locates the enclosing function and type scopes of a source
// line. Locators are heuristics: the AST-backed ones are exact for the code
// they parse, the window locator is a bounded backward search that can
// misclassify long functions or types.
package scope

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Index answers scope questions for one file. Lines are 0-based.
type Index interface {
	// InFunction reports whether the line is inside, or is the header of, a function.
	InFunction(line int) bool
	// InType reports whether the line is inside, or is the header of, a type declaration.
	InType(line int) bool
}

// Locator builds scope indexes for the files it supports.
type Locator interface {
	// Name returns the locator identifier (e.g. "go", "typescript", "window").
	Name() string
	// Supports returns true if the locator can index the given path.
	Supports(path string) bool
	// Index builds the scope index of one file.
	Index(path string, src []byte, lines []string) (Index, error)
}

// Rules are the line rules used to recognise declarations by text.
type Rules struct {
	MetaKeywords    []string
	MacroKeywords   []string
	MesoKeywords    []string
	FunctionPattern string
	VarDeclPattern  string
	FunctionWindow  int
	TypeWindow      int
}

// Classifier recognises declarations in single lines of source.
type Classifier struct {
	meta     *regexp.Regexp
	macro    *regexp.Regexp
	meso     *regexp.Regexp
	function *regexp.Regexp
	varDecl  *regexp.Regexp

	functionWindow int
	typeWindow     int
}

var controlFlow = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "switch": true,
	"catch": true, "return": true, "do": true, "sizeof": true, "case": true,
}

// NewClassifier compiles rules into a Classifier.
func NewClassifier(r Rules) (*Classifier, error) {
	c := &Classifier{
		meta:           keywordRegexp(r.MetaKeywords),
		macro:          keywordRegexp(r.MacroKeywords),
		meso:           keywordRegexp(r.MesoKeywords),
		functionWindow: r.FunctionWindow,
		typeWindow:     r.TypeWindow,
	}
	var err error
	if r.FunctionPattern != "" {
		if c.function, err = regexp.Compile(r.FunctionPattern); err != nil {
			return nil, fmt.Errorf("function pattern: %w", err)
		}
	}
	if r.VarDeclPattern != "" {
		if c.varDecl, err = regexp.Compile(r.VarDeclPattern); err != nil {
			return nil, fmt.Errorf("variable declaration pattern: %w", err)
		}
	}
	if c.functionWindow < 1 {
		c.functionWindow = 50
	}
	if c.typeWindow < 1 {
		c.typeWindow = 100
	}
	return c, nil
}

// keywordRegexp matches any keyword as a whole token.
func keywordRegexp(keywords []string) *regexp.Regexp {
	var quoted []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?:^|[^\w])(?:` + strings.Join(quoted, "|") + `)(?:[^\w]|$)`)
}

func matches(re *regexp.Regexp, line string) bool {
	return re != nil && re.MatchString(line)
}

// IsSystem reports whether the line carries a system-level keyword.
func (c *Classifier) IsSystem(line string) bool { return matches(c.meta, line) }

// IsTypeDecl reports whether the line declares a type.
func (c *Classifier) IsTypeDecl(line string) bool { return matches(c.macro, line) }

// IsFuncDecl reports whether the line declares a function or method.
func (c *Classifier) IsFuncDecl(line string) bool {
	if matches(c.meso, line) {
		return true
	}
	if c.function == nil {
		return false
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '('
	})
	if len(fields) > 0 && controlFlow[fields[0]] {
		return false
	}
	return c.function.MatchString(line)
}

// IsVarDecl reports whether the line declares a variable.
func (c *Classifier) IsVarDecl(line string) bool { return matches(c.varDecl, line) }

// Registry holds registered locators and a fallback for unsupported files.
type Registry struct {
	locators []Locator
	fallback Locator
}

// NewRegistry creates a registry that falls back to the given locator.
func NewRegistry(fallback Locator) *Registry {
	return &Registry{fallback: fallback}
}

// Register adds a locator to the registry.
func (r *Registry) Register(l Locator) {
	r.locators = append(r.locators, l)
}

// For returns the first locator supporting path, or the fallback.
func (r *Registry) For(path string) Locator {
	for _, l := range r.locators {
		if l.Supports(path) {
			return l
		}
	}
	return r.fallback
}

// Index builds the scope index of a file with the matching locator. When that
// locator fails the fallback indexes the file instead.
func (r *Registry) Index(path string, src []byte, lines []string) (Index, error) {
	l := r.For(path)
	if l == nil {
		return nil, fmt.Errorf("no scope locator for %s", path)
	}
	idx, err := l.Index(path, src, lines)
	if err == nil {
		return idx, nil
	}
	if l == r.fallback || r.fallback == nil {
		return nil, fmt.Errorf("%s locator: %w", l.Name(), err)
	}
	return r.fallback.Index(path, src, lines)
}

// NewDefaultRegistry wires the Go, TypeScript and window locators.
func NewDefaultRegistry(c *Classifier) *Registry {
	r := NewRegistry(NewWindowLocator(c))
	r.Register(NewGoLocator())
	r.Register(NewTSLocator())
	return r
}

func hasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

type lineRange struct {
	start, end int
}

// rangeIndex answers scope questions from explicit line ranges.
type rangeIndex struct {
	funcs []lineRange
	types []lineRange
}

func within(ranges []lineRange, line int) bool {
	for _, r := range ranges {
		if line >= r.start && line <= r.end {
			return true
		}
	}
	return false
}

func (x *rangeIndex) InFunction(line int) bool { return within(x.funcs, line) }

func (x *rangeIndex) InType(line int) bool { return within(x.types, line) }
