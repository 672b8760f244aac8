package scope

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
)

// GoLocator builds exact scope ranges for Go files from the go/parser AST.
type GoLocator struct{}

// NewGoLocator creates a new GoLocator.
func NewGoLocator() *GoLocator {
	return &GoLocator{}
}

func (l *GoLocator) Name() string { return "go" }

func (l *GoLocator) Supports(path string) bool { return hasExt(path, ".go") }

func (l *GoLocator) Index(path string, src []byte, _ []string) (Index, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	idx := &rangeIndex{}
	span := func(n ast.Node) lineRange {
		return lineRange{
			start: fset.Position(n.Pos()).Line - 1,
			end:   fset.Position(n.End()).Line - 1,
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.FuncDecl:
			idx.funcs = append(idx.funcs, span(node))
		case *ast.FuncLit:
			idx.funcs = append(idx.funcs, span(node))
		case *ast.GenDecl:
			if node.Tok == token.TYPE {
				idx.types = append(idx.types, span(node))
			}
		}
		return true
	})
	return idx, nil
}
