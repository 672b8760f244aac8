package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/checkpoint"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/inspector"
	"github.com/dejo1307/resonance/internal/scope"
)

const testCatalog = `
null_pointer_access:
  severity: critical
  frequency_weight: 0.85
  patterns:
    arrow_call: '\w+->\w+\('
`

const guardPattern = `^(\s*)(\w+)->(\w+)\((.*)\);`
const guardReplacement = `\1if (\2) { \2->\3(\4); }`

const fileA = "void Tick() {\n    Target->Destroy();\n    Other->Run();\n}\n"
const fileB = "void Fire() {\n    Weapon->Shoot();\n}\n"

type fixture struct {
	exec  *Executor
	cat   *catalog.Catalog
	store *checkpoint.Store
	dir   string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog), nil)
	require.NoError(t, err)

	classifier, err := scope.NewClassifier(scope.Rules{
		MetaKeywords:  []string{"#include"},
		MacroKeywords: []string{"class"},
		MesoKeywords:  []string{"void"},
	})
	require.NoError(t, err)
	in := inspector.New(cat, classifier, scope.NewDefaultRegistry(classifier), inspector.Options{ContextLines: 1}, nil)

	dir := t.TempDir()
	store := checkpoint.NewStore(filepath.Join(dir, ".resonance", "backups"), nil)
	return &fixture{
		exec:  New(cat, in, store, opts, nil),
		cat:   cat,
		store: store,
		dir:   dir,
	}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func guard(path string, line int) findings.Intervention {
	return findings.Intervention{
		ID:                "iv-" + filepath.Base(path),
		PatternType:       "null_pointer_access",
		ResonancePoint:    findings.PointNullGuard,
		FilePath:          path,
		LineNumber:        line,
		Pattern:           guardPattern,
		Replacement:       guardReplacement,
		CascadePrediction: findings.CascadePrediction{FileImpact: 0.1},
	}
}

func broken(path string, line int) findings.Intervention {
	iv := guard(path, line)
	iv.Pattern = "NotPresent"
	iv.Replacement = "Anything"
	return iv
}

func TestApplyOne_Success(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)

	res := f.exec.ApplyOne(guard(a, 2))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "void Tick() {\n    if (Target) { Target->Destroy(); }\n    Other->Run();\n}\n", read(t, a))
	assert.Equal(t, []string{a}, res.FilesModified)
	assert.NotEmpty(t, res.BackupID)
	assert.Len(t, f.store.List(), 1, "backup retained")

	c := res.Cascade
	require.NotNil(t, c)
	// The guarded call still matches, so the observed file impact is 0 and
	// the prior wins.
	assert.InDelta(t, 0.1, c.FileImpact, 1e-9)
	assert.InDelta(t, 0.3, c.BuildImpact, 1e-9)
	assert.InDelta(t, 0.7, c.RuntimeImpact, 1e-9)
	assert.InDelta(t, 0.03+0.09+0.28, c.OverallScore, 1e-9)
	assert.Equal(t, []string{a}, c.AffectedFiles)
	assert.GreaterOrEqual(t, c.BaselineResonance, 0.0)
}

func TestApplyOne_ObservedFileImpact(t *testing.T) {
	f := newFixture(t, Options{BuildImpact: func(patternType string) float64 {
		if patternType == "null_pointer_access" {
			return 0.5
		}
		return DefaultBuildImpact
	}})
	a := f.write(t, "a.cpp", fileA)

	iv := findings.Intervention{
		PatternType:    "null_pointer_access",
		ResonancePoint: findings.PointAPIMigration,
		FilePath:       a,
		LineNumber:     3,
		Pattern:        `(\w+)->Run\(\)`,
		Replacement:    `$1.Run()`,
	}
	res := f.exec.ApplyOne(iv)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, read(t, a), "    Other.Run();\n")

	c := res.Cascade
	assert.InDelta(t, 0.5, c.FileImpact, 1e-9)
	assert.InDelta(t, 0.5, c.BuildImpact, 1e-9)
	assert.InDelta(t, 0.3, c.RuntimeImpact, 1e-9)
	assert.InDelta(t, 0.15+0.15+0.12, c.OverallScore, 1e-9)
}

func TestApplyOne_Failures(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)

	unknown := guard(a, 2)
	unknown.PatternType = "not_in_catalog"

	tests := []struct {
		name string
		iv   findings.Intervention
		want string
	}{
		{"no-op", broken(a, 2), "no-op"},
		{"line out of range", guard(a, 99), "line out of range"},
		{"line zero", guard(a, 0), "line out of range"},
		{"unknown pattern", unknown, "unknown pattern type"},
		{"missing file", guard(filepath.Join(f.dir, "gone.cpp"), 1), "file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.exec.ApplyOne(tt.iv)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.want)
			assert.Nil(t, res.Cascade)
			assert.Equal(t, fileA, read(t, a), "file byte-identical")
		})
	}
	assert.Empty(t, f.store.List(), "failed applications leave no backups")
}

func TestApplyOne_PreservesCRLF(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", "void Tick() {\r\n    Target->Destroy();\r\n}\r\n")

	res := f.exec.ApplyOne(guard(a, 2))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "void Tick() {\r\n    if (Target) { Target->Destroy(); }\r\n}\r\n", read(t, a))
}

func TestApplyBatch_AtomicRollback(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)
	b := f.write(t, "b.cpp", fileB)

	res := f.exec.ApplyBatch([]findings.Intervention{guard(a, 2), broken(b, 2)}, true)

	assert.True(t, res.RolledBack)
	assert.Equal(t, 2, res.Total)
	assert.Zero(t, res.Successful)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.SuccessRate)
	assert.Equal(t, RollbackMessage, res.Results[0].Error)
	assert.Nil(t, res.Results[0].Cascade)
	assert.Contains(t, res.Results[1].Error, "no-op")

	assert.Equal(t, fileA, read(t, a))
	assert.Equal(t, fileB, read(t, b))
	assert.Empty(t, f.store.List())

	_, ok := f.cat.History("null_pointer_access")
	assert.False(t, ok, "rolled back successes are not recorded")
}

func TestApplyBatch_NonAtomicPersists(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)
	b := f.write(t, "b.cpp", fileB)

	res := f.exec.ApplyBatch([]findings.Intervention{guard(a, 2), broken(b, 2)}, false)

	assert.False(t, res.RolledBack)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.InDelta(t, 0.5, res.SuccessRate, 1e-9)
	assert.Contains(t, read(t, a), "if (Target)")
	assert.Equal(t, fileB, read(t, b))

	h, ok := f.cat.History("null_pointer_access")
	require.True(t, ok)
	assert.Equal(t, 1, h.DetectionCount)
	assert.Equal(t, 1.0, h.FixSuccessRate)
	assert.Equal(t, []string{a}, h.AffectedFiles)
	assert.InDelta(t, res.AvgCascadeScore, h.AverageCascadeScore, 1e-9)
}

func TestApplyBatch_ThreeInterventionsTwoFiles(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)
	b := f.write(t, "b.cpp", fileB)

	res := f.exec.ApplyBatch([]findings.Intervention{
		guard(a, 2),
		broken(b, 2),
		guard(a, 3),
	}, true)

	assert.Equal(t, 0, res.Successful)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, fileA, read(t, a))
	assert.Equal(t, fileB, read(t, b))
}

func TestApplyBatch_AtomicSuccessCommits(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)
	b := f.write(t, "b.cpp", fileB)

	res := f.exec.ApplyBatch([]findings.Intervention{guard(a, 2), guard(a, 3), guard(b, 2)}, true)

	require.Equal(t, 3, res.Successful, res.Results)
	assert.Equal(t, 1.0, res.SuccessRate)
	assert.Greater(t, res.AvgCascadeScore, 0.0)
	assert.Empty(t, f.store.List(), "batch backup discarded")
	assert.Contains(t, read(t, a), "if (Other)")

	h, _ := f.cat.History("null_pointer_access")
	assert.Equal(t, 3, h.DetectionCount)
	assert.Equal(t, []string{a, b}, h.AffectedFiles)
}

func TestApplyBatch_RecordFailures(t *testing.T) {
	f := newFixture(t, Options{RecordFailures: true})
	a := f.write(t, "a.cpp", fileA)
	b := f.write(t, "b.cpp", fileB)

	f.exec.ApplyBatch([]findings.Intervention{guard(a, 2), broken(b, 2)}, true)

	h, ok := f.cat.History("null_pointer_access")
	require.True(t, ok)
	assert.Equal(t, 1, h.DetectionCount, "only the genuine failure is recorded")
	assert.Zero(t, h.FixSuccessRate)
}

func TestApplyBatch_Empty(t *testing.T) {
	f := newFixture(t, Options{})
	res := f.exec.ApplyBatch(nil, true)
	assert.Zero(t, res.Total)
	assert.Zero(t, res.SuccessRate)
	assert.Zero(t, res.AvgCascadeScore)
}

func TestApplyBatch_AtomicMissingFile(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)

	res := f.exec.ApplyBatch([]findings.Intervention{guard(a, 2), guard(filepath.Join(f.dir, "gone.cpp"), 1)}, true)
	assert.Equal(t, 2, res.Failed)
	assert.Contains(t, res.Results[0].Error, "batch backup failed")
	assert.Equal(t, fileA, read(t, a))
}

func TestRestoreAndCleanup(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.write(t, "a.cpp", fileA)

	res := f.exec.ApplyOne(guard(a, 2))
	require.True(t, res.Success)

	files, err := f.exec.Restore(res.BackupID)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, files)
	assert.Equal(t, fileA, read(t, a))

	_, err = f.exec.Restore(res.BackupID)
	assert.ErrorIs(t, err, checkpoint.ErrUnknownCheckpoint)

	require.True(t, f.exec.ApplyOne(guard(a, 2)).Success)
	assert.Equal(t, 1, f.exec.Cleanup(-1))
	assert.Empty(t, f.store.List())
}
