package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/config"
	"github.com/dejo1307/resonance/internal/engine"
	"github.com/dejo1307/resonance/internal/executor"
)

const testCatalog = `
null_pointer_access:
  severity: critical
  frequency_weight: 0.85
  patterns:
    arrow_call: '\w+->\w+\('
  intervention_templates:
    null_guard:
      pattern: '^(\s*)(\w+)->(\w+)\((.*)\);'
      replacement: '\1if (\2) { \2->\3(\4); }'
`

const actorSource = "void Tick() {\n    Target->Destroy();\n}\n"

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Actor.cpp"), []byte(actorSource), 0o644))

	cat, err := catalog.Parse([]byte(testCatalog), nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Repo = root
	cfg.Extensions = []string{".cpp"}
	eng, err := engine.NewWithCatalog(cfg, cat, nil, nil)
	require.NoError(t, err)
	return New(eng, nil), root
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestDebugFile(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	res, _, err := s.debugFile(ctx, nil, debugFileArgs{Path: filepath.Join(root, "Actor.cpp")})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"pattern_type": "null_pointer_access"`)

	res, _, _ = s.debugFile(ctx, nil, debugFileArgs{})
	assert.True(t, res.IsError)

	res, _, err = s.debugFile(ctx, nil, debugFileArgs{Path: filepath.Join(root, "missing.cpp")})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"skip_reason"`)
}

func TestQueryFindings_BeforeAnalysis(t *testing.T) {
	s, _ := newTestServer(t)
	res, _, err := s.queryFindings(context.Background(), nil, queryFindingsArgs{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "Run debug_project first")
}

func TestExecuteBatch_BeforeAnalysis(t *testing.T) {
	s, _ := newTestServer(t)
	res, _, err := s.executeBatch(context.Background(), nil, executeBatchArgs{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.listBackups(context.Background(), nil, listBackupsArgs{})
	require.NoError(t, err)
	assert.Equal(t, "No retained backups.", text(t, res))
}

func TestDebugProjectThenExecute(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	res, _, err := s.debugProject(ctx, nil, debugProjectArgs{})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "- Matches: 1")

	tests := []struct {
		name    string
		args    queryFindingsArgs
		isError bool
		want    string
	}{
		{"all", queryFindingsArgs{}, false, "Target->Destroy"},
		{"by scale", queryFindingsArgs{Scale: "meso"}, false, "Target->Destroy"},
		{"bad scale", queryFindingsArgs{Scale: "galactic"}, true, "unknown scale"},
		{"no results", queryFindingsArgs{PatternType: "other"}, false, "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := s.queryFindings(ctx, nil, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.isError, res.IsError)
			assert.Contains(t, text(t, res), tt.want)
		})
	}

	res, _, err = s.executeBatch(ctx, nil, executeBatchArgs{Atomic: true})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var batch executor.BatchResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &batch))
	assert.Equal(t, 1, batch.Successful)

	data, err := os.ReadFile(filepath.Join(root, "Actor.cpp"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "if (Target) { Target->Destroy(); }")

	_, err = os.Stat(filepath.Join(root, ".resonance", "report.md"))
	assert.NoError(t, err)

	res, _, err = s.listBackups(ctx, nil, listBackupsArgs{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, text(t, res), "Actor.cpp")
	assert.Contains(t, text(t, res), `"created_at"`)

	res, _, _ = s.restoreBackup(ctx, nil, restoreBackupArgs{BackupID: "missing"})
	assert.True(t, res.IsError)
	res, _, _ = s.cleanupBackups(ctx, nil, cleanupBackupsArgs{})
	assert.Equal(t, "Removed 0 backup(s).", text(t, res))
}

func TestMCPSession(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"debug_file", "debug_project", "execute_batch", "top_patterns",
		"query_findings", "list_backups", "cleanup_backups", "restore_backup",
	}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "debug_project", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "top_patterns", Arguments: map[string]any{"limit": 1}})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "null_pointer_access")

	rr, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "resonance://report"})
	require.NoError(t, err)
	require.Len(t, rr.Contents, 1)
	assert.Contains(t, rr.Contents[0].Text, "# Resonance Report")
}
