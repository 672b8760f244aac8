package scope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(Rules{
		MetaKeywords:    []string{"#include", "UCLASS", "namespace"},
		MacroKeywords:   []string{"class", "struct"},
		MesoKeywords:    []string{"func", "function"},
		FunctionPattern: `^\s*(?:[\w:<>,\*&~]+\s+)*[\*&]?[\w:~]+\s*\([^;]*\)\s*(?:const\s*)?\{?\s*$`,
		VarDeclPattern:  `(?:\b(?:var|let|const|auto)\s+\w+)|(?:^\s*[\w:<>]+[\s\*&]+\w+\s*(?:=[^=]|;))`,
		FunctionWindow:  5,
		TypeWindow:      10,
	})
	require.NoError(t, err)
	return c
}

func lines(src string) []string {
	return strings.Split(src, "\n")
}

func TestClassifier(t *testing.T) {
	c := testClassifier(t)

	tests := []struct {
		line                         string
		system, typeDecl, fn, varDcl bool
	}{
		{`#include "Actor.h"`, true, false, false, false},
		{`namespace Game {`, true, false, false, false},
		{`class AMyActor : public AActor {`, false, true, false, false},
		{`void AMyActor::Tick(float DeltaTime) {`, false, false, true, false},
		{`if (Target) {`, false, false, false, false},
		{`while (Running)`, false, false, false, false},
		{`AActor* Target = nullptr;`, false, false, false, true},
		{`auto Count = 3;`, false, false, false, true},
		{`Target->Destroy();`, false, false, false, false},
		{`classic->Run();`, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.system, c.IsSystem(tt.line), "system")
			assert.Equal(t, tt.typeDecl, c.IsTypeDecl(tt.line), "type")
			assert.Equal(t, tt.fn, c.IsFuncDecl(tt.line), "function")
			assert.Equal(t, tt.varDcl, c.IsVarDecl(tt.line), "var")
		})
	}
}

func TestNewClassifier_BadPattern(t *testing.T) {
	_, err := NewClassifier(Rules{FunctionPattern: "(unclosed"})
	assert.Error(t, err)
}

func TestWindowLocator(t *testing.T) {
	c := testClassifier(t)
	src := lines(`class AMyActor {
  int Health;
  void Tick(float dt) {
    Target->Destroy();
  }
};





Orphan->Run();`)

	idx, err := NewWindowLocator(c).Index("a.cpp", nil, src)
	require.NoError(t, err)

	assert.True(t, idx.InFunction(3))
	assert.True(t, idx.InFunction(2), "header line counts")
	assert.False(t, idx.InFunction(1))
	assert.True(t, idx.InType(1))
	// Line 11 is beyond the 5-line function window but inside the 10-line type window.
	assert.False(t, idx.InFunction(11))
	assert.False(t, idx.InType(11))
	assert.True(t, idx.InType(10))
	assert.False(t, idx.InFunction(-1))
	assert.False(t, idx.InType(99))
}

func TestGoLocator(t *testing.T) {
	src := `package demo

type Actor struct {
	Name string
}

func (a *Actor) Destroy() {
	cb := func() {
		_ = a.Name
	}
	cb()
}

var global = 1
`
	l := NewGoLocator()
	assert.True(t, l.Supports("x/demo.go"))
	assert.False(t, l.Supports("x/demo.ts"))

	idx, err := l.Index("demo.go", []byte(src), lines(src))
	require.NoError(t, err)

	assert.True(t, idx.InType(2))
	assert.True(t, idx.InType(3))
	assert.False(t, idx.InType(6))
	assert.True(t, idx.InFunction(6))
	assert.True(t, idx.InFunction(8))
	assert.False(t, idx.InFunction(13))

	_, err = l.Index("broken.go", []byte("package demo\nfunc {"), nil)
	assert.Error(t, err)
}

func TestTSLocator(t *testing.T) {
	src := `interface Props {
  name: string;
}

export class Widget {
  render() {
    return this.name;
  }
}

const handler = (x: number) => {
  return x + 1;
};

let loose = 3;
`
	l := NewTSLocator()
	assert.True(t, l.Supports("app/widget.tsx"))
	assert.False(t, l.Supports("app/widget.go"))

	idx, err := l.Index("widget.ts", []byte(src), lines(src))
	require.NoError(t, err)

	assert.True(t, idx.InType(1))
	assert.True(t, idx.InType(6))
	assert.True(t, idx.InFunction(6))
	assert.False(t, idx.InFunction(4))
	assert.True(t, idx.InFunction(11))
	assert.False(t, idx.InType(11))
	assert.False(t, idx.InFunction(14))
}

func TestRegistry_FallsBackOnParseFailure(t *testing.T) {
	c := testClassifier(t)
	r := NewDefaultRegistry(c)

	assert.Equal(t, "go", r.For("main.go").Name())
	assert.Equal(t, "typescript", r.For("app.ts").Name())
	assert.Equal(t, "window", r.For("Actor.cpp").Name())

	// Not valid Go: the window locator indexes it by text instead.
	src := "func Broken( {\n  x := 1\n"
	idx, err := r.Index("broken.go", []byte(src), lines(src))
	require.NoError(t, err)
	assert.True(t, idx.InFunction(1))
}

func TestRegistry_ErrorNamesLocator(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(NewGoLocator())

	_, err := r.Index("broken.go", []byte("package demo\nfunc {"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "go locator")

	_, err = r.Index("Actor.cpp", nil, nil)
	assert.ErrorContains(t, err, "no scope locator")
}
