package scope

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

var tsFunctionKinds = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"function_expression":            true,
	"arrow_function":                 true,
	"method_definition":              true,
}

var tsTypeKinds = map[string]bool{
	"class_declaration":          true,
	"abstract_class_declaration": true,
	"class":                      true,
	"interface_declaration":      true,
	"type_alias_declaration":     true,
	"enum_declaration":           true,
}

// TSLocator builds scope ranges for TypeScript/TSX files using tree-sitter.
type TSLocator struct{}

// NewTSLocator creates a new TSLocator.
func NewTSLocator() *TSLocator {
	return &TSLocator{}
}

func (l *TSLocator) Name() string { return "typescript" }

func (l *TSLocator) Supports(path string) bool {
	return hasExt(path, ".ts", ".tsx", ".mts", ".cts")
}

func (l *TSLocator) Index(path string, src []byte, _ []string) (Index, error) {
	lang := typescript.LanguageTypescript()
	if hasExt(path, ".tsx") {
		lang = typescript.LanguageTSX()
	}

	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(sitter.NewLanguage(lang)); err != nil {
		return nil, fmt.Errorf("typescript grammar: %w", err)
	}

	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, fmt.Errorf("parsing %s: no tree", path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("parsing %s: syntax errors", path)
	}

	idx := &rangeIndex{}
	collectTSRanges(root, idx)
	return idx, nil
}

func collectTSRanges(node *sitter.Node, idx *rangeIndex) {
	kind := node.Kind()
	r := lineRange{start: int(node.StartPosition().Row), end: int(node.EndPosition().Row)}
	if tsFunctionKinds[kind] {
		idx.funcs = append(idx.funcs, r)
	}
	if tsTypeKinds[kind] {
		idx.types = append(idx.types, r)
	}
	for i := range node.NamedChildCount() {
		if child := node.NamedChild(i); child != nil {
			collectTSRanges(child, idx)
		}
	}
}
