package findings

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMatches() []PatternMatch {
	return []PatternMatch{
		{PatternType: "null_deref", FilePath: "src/a.cpp", LineNumber: 3, Scale: ScaleMicro, Amplitude: 0.9},
		{PatternType: "null_deref", FilePath: "src/b.cpp", LineNumber: 10, Scale: ScaleMeso, Amplitude: 0.7},
		{PatternType: "raw_new", FilePath: "src/a.cpp", LineNumber: 8, Scale: ScaleMacro, Amplitude: 0.6},
	}
}

func TestStore_Query(t *testing.T) {
	s := NewStore()
	s.Add(sampleMatches()...)

	tests := []struct {
		name      string
		opts      QueryOpts
		wantLen   int
		wantTotal int
	}{
		{"no filters", QueryOpts{}, 3, 3},
		{"by pattern", QueryOpts{PatternType: "raw_new"}, 1, 1},
		{"by prefix", QueryOpts{FilePrefix: "src/"}, 3, 3},
		{"by scale", QueryOpts{Scale: ScaleMeso}, 1, 1},
		{"by file", QueryOpts{File: "src/a.cpp"}, 2, 2},
		{"by file and pattern", QueryOpts{File: "src/a.cpp", PatternType: "null_deref"}, 1, 1},
		{"by file and scale mismatch", QueryOpts{File: "src/b.cpp", Scale: ScaleMacro}, 0, 0},
		{"unknown pattern", QueryOpts{PatternType: "missing"}, 0, 0},
		{"min amplitude", QueryOpts{MinAmplitude: 0.75}, 1, 1},
		{"offset past end", QueryOpts{Offset: 5}, 0, 3},
		{"limit", QueryOpts{Limit: 2}, 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total := s.Query(tt.opts)
			assert.Len(t, got, tt.wantLen)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestStore_JSONLRoundTrip(t *testing.T) {
	s := NewStore()
	s.Add(sampleMatches()...)
	s.Add(PatternMatch{PatternType: "cast_deref", FilePath: "src/c.cpp", LineContent: "Cast<AActor>(Obj)->Tick();", Scale: ScaleMicro})

	var buf bytes.Buffer
	require.NoError(t, s.WriteJSONL(&buf))
	assert.Contains(t, buf.String(), "Cast<AActor>(Obj)->Tick();")

	path := filepath.Join(t.TempDir(), "findings.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	loaded := NewStore()
	require.NoError(t, loaded.ReadJSONLFile(path))
	want, _ := s.Query(QueryOpts{})
	got, total := loaded.Query(QueryOpts{})
	assert.Equal(t, 4, total)
	assert.Equal(t, want, got)
	byFile, _ := loaded.Query(QueryOpts{File: "src/a.cpp"})
	assert.Len(t, byFile, 2)
}

func TestIndentJSON_KeepsSourceText(t *testing.T) {
	data, err := IndentJSON(map[string]string{"line": "Cast<AActor>(Obj)->Tick();"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"line\": \"Cast<AActor>(Obj)->Tick();\"\n}", string(data))
}

func TestStore_ReadJSONL_Malformed(t *testing.T) {
	s := NewStore()
	err := s.ReadJSONL(bytes.NewBufferString("{\"pattern_type\":\"x\"}\nnot json\n"))
	require.Error(t, err)
	assert.Equal(t, 1, s.Count())
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Add(sampleMatches()...)
	s.Clear()
	assert.Zero(t, s.Count())
	got, total := s.Query(QueryOpts{PatternType: "null_deref"})
	assert.Empty(t, got)
	assert.Zero(t, total)
}

func TestSpectrum_SetClampsAndMax(t *testing.T) {
	var sp AmplitudeSpectrum
	sp.Set(ScaleMicro, 1.4)
	sp.Set(ScaleMeta, -0.2)
	sp.Set(ScaleMacro, 0.5)

	assert.Equal(t, 1.0, sp.At(ScaleMicro))
	assert.Equal(t, 0.0, sp.At(ScaleMeta))
	assert.Equal(t, 1.0, sp.Max())
}

func TestScale_Rank(t *testing.T) {
	assert.Equal(t, 0, ScaleMicro.Rank())
	assert.Equal(t, 3, ScaleMeta.Rank())
	assert.Equal(t, -1, Scale("galactic").Rank())

	_, err := ParseScale("galactic")
	assert.Error(t, err)
	_, err = ParseResonancePoint("smart_pointer")
	assert.NoError(t, err)
}
