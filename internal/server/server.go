package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/analysis"
	"github.com/dejo1307/resonance/internal/engine"
	"github.com/dejo1307/resonance/internal/findings"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

const maxQueryResults = 100

// Server wraps the MCP server and connects it to the engine.
type Server struct {
	mcp    *mcp.Server
	eng    *engine.Engine
	logger *zap.Logger
}

// New creates a new MCP server wired to the given engine.
func New(eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		eng:    eng,
		logger: logger.Named("server"),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "resonance",
		Version: Version,
	}, nil)

	s.registerResources()
	s.registerTools()
	return s
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

type artifactResource struct {
	uri         string
	name        string
	description string
	mimeType    string
	artifact    string
}

var artifactResources = []artifactResource{
	{"resonance://report", "Resonance Report", "Markdown summary of the last analysis and batch", "text/markdown", engine.ArtifactReport},
	{"resonance://findings", "Pattern Matches", "Every pattern match of the last analysis in JSONL format", "application/jsonl", engine.ArtifactFindings},
	{"resonance://summary", "Analysis Summary", "Aggregate summary, top patterns and last batch result", "application/json", engine.ArtifactSummary},
	{"resonance://interventions", "Planned Interventions", "Interventions planned by the last analysis", "application/json", engine.ArtifactInterventions},
}

// registerResources adds MCP resources for the analysis artifacts.
func (s *Server) registerResources() {
	for _, r := range artifactResources {
		s.mcp.AddResource(&mcp.Resource{
			URI:         r.uri,
			Name:        r.name,
			Description: r.description,
			MIMEType:    r.mimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			content, err := s.eng.GetArtifact(r.artifact)
			if err != nil {
				return nil, fmt.Errorf("no analysis available: %w (run debug_project first)", err)
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: req.Params.URI, Text: string(content), MIMEType: r.mimeType},
				},
			}, nil
		})
	}
}

type debugFileArgs struct {
	Path string `json:"path" jsonschema:"Path of the source file to analyse"`
}

type debugProjectArgs struct {
	RepoPath         string   `json:"repo_path,omitempty" jsonschema:"Repository to walk when files is empty. Defaults to the configured repo path."`
	Files            []string `json:"files,omitempty" jsonschema:"Explicit list of files to analyse"`
	SeedPatternTypes []string `json:"seed_pattern_types,omitempty" jsonschema:"Restrict the analysis to these pattern types, e.g. from a build-log categorizer"`
}

type executeBatchArgs struct {
	InterventionIDs []string `json:"intervention_ids,omitempty" jsonschema:"IDs of planned interventions to apply. Empty applies every planned intervention."`
	Atomic          bool     `json:"atomic,omitempty" jsonschema:"Roll back every file when any intervention fails"`
}

type topPatternsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Number of patterns to return (default 10)"`
}

type queryFindingsArgs struct {
	PatternType  string  `json:"pattern_type,omitempty" jsonschema:"Filter by pattern type"`
	File         string  `json:"file,omitempty" jsonschema:"Filter by exact file path"`
	FilePrefix   string  `json:"file_prefix,omitempty" jsonschema:"Filter by file path prefix"`
	Scale        string  `json:"scale,omitempty" jsonschema:"Filter by scale: micro, meso, macro or meta"`
	MinAmplitude float64 `json:"min_amplitude,omitempty" jsonschema:"Minimum match amplitude"`
	Limit        int     `json:"limit,omitempty" jsonschema:"Maximum results (default 100)"`
	Offset       int     `json:"offset,omitempty" jsonschema:"Results to skip"`
}

type cleanupBackupsArgs struct {
	MaxAgeDays int `json:"max_age_days,omitempty" jsonschema:"Delete backups older than this many days. Defaults to the configured retention."`
}

type listBackupsArgs struct{}

type restoreBackupArgs struct {
	BackupID string `json:"backup_id" jsonschema:"Backup ID reported by execute_batch"`
}

// registerTools adds the analysis and mutation tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "debug_file",
		Description: "Scan one source file for known defect signatures. Returns matches, per-pattern resonance analysis, planned interventions and a summary as JSON.",
	}, s.debugFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "debug_project",
		Description: "Analyse a set of files, or walk a repository, for defect signatures. Plans interventions and writes the report artifacts.",
	}, s.debugProject)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "execute_batch",
		Description: "Apply planned interventions with backup and rollback, measure their cascade and update the pattern history.",
	}, s.executeBatch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "top_patterns",
		Description: "List pattern types ranked by learned priority.",
	}, s.topPatterns)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_findings",
		Description: "Query the pattern matches of the last analysis by pattern type, file, scale or amplitude.",
	}, s.queryFindings)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cleanup_backups",
		Description: "Delete retained intervention backups older than the retention period.",
	}, s.cleanupBackups)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_backups",
		Description: "List retained intervention backups with their IDs, creation time and files.",
	}, s.listBackups)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "restore_backup",
		Description: "Restore the files of a retained intervention backup.",
	}, s.restoreBackup)
}

func (s *Server) debugFile(ctx context.Context, req *mcp.CallToolRequest, args debugFileArgs) (*mcp.CallToolResult, any, error) {
	if args.Path == "" {
		return errorResult("path is required"), nil, nil
	}
	fr, err := s.eng.DebugFile(args.Path)
	if err != nil {
		return errorResult(fmt.Sprintf("analysis failed: %v", err)), nil, nil
	}
	return jsonResult(fr)
}

func (s *Server) debugProject(ctx context.Context, req *mcp.CallToolRequest, args debugProjectArgs) (*mcp.CallToolResult, any, error) {
	var (
		p   *analysis.Project
		err error
	)
	switch {
	case len(args.Files) == 0:
		p, err = s.eng.DebugRepo(ctx, args.RepoPath)
	case len(args.SeedPatternTypes) > 0:
		p, err = s.eng.AnalyzeKnownFiles(ctx, args.Files, args.SeedPatternTypes)
	default:
		p, err = s.eng.DebugProject(ctx, args.Files)
	}
	if err != nil {
		return errorResult(fmt.Sprintf("analysis failed: %v", err)), nil, nil
	}

	if err := s.eng.WriteArtifacts(); err != nil {
		s.logger.Warn("failed to write artifacts", zap.Error(err))
	}

	sum := p.Summary
	var sb strings.Builder
	sb.WriteString("Analysis complete.\n\n")
	sb.WriteString(fmt.Sprintf("- Files analyzed: %d (%d skipped)\n", sum.FilesAnalyzed, sum.FilesSkipped))
	sb.WriteString(fmt.Sprintf("- Matches: %d\n", sum.TotalMatches))
	sb.WriteString(fmt.Sprintf("- Planned interventions: %d\n", sum.TotalInterventions))
	if len(sum.SystemicPatterns) > 0 {
		sb.WriteString(fmt.Sprintf("- Systemic patterns: %s\n", strings.Join(sum.SystemicPatterns, ", ")))
	}
	if len(p.TopPatterns) > 0 {
		top := p.TopPatterns[0]
		sb.WriteString(fmt.Sprintf("- Top pattern: %s (priority %.3f)\n", top.PatternType, top.Priority))
	}
	sb.WriteString("\nRead resonance://report for the full report and resonance://interventions for intervention IDs.")
	return textResult(sb.String()), nil, nil
}

func (s *Server) executeBatch(ctx context.Context, req *mcp.CallToolRequest, args executeBatchArgs) (*mcp.CallToolResult, any, error) {
	ivs, err := s.eng.Interventions(args.InterventionIDs)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if len(ivs) == 0 {
		return errorResult("no interventions to apply"), nil, nil
	}

	res := s.eng.ExecuteBatch(ctx, ivs, args.Atomic)
	if err := s.eng.WriteArtifacts(); err != nil {
		s.logger.Warn("failed to write artifacts", zap.Error(err))
	}
	return jsonResult(res)
}

func (s *Server) topPatterns(ctx context.Context, req *mcp.CallToolRequest, args topPatternsArgs) (*mcp.CallToolResult, any, error) {
	n := args.Limit
	if n <= 0 {
		n = engine.TopPatternLimit
	}
	return jsonResult(s.eng.TopPatterns(n))
}

func (s *Server) queryFindings(ctx context.Context, req *mcp.CallToolRequest, args queryFindingsArgs) (*mcp.CallToolResult, any, error) {
	if s.eng.Store().Count() == 0 {
		return errorResult("No findings available. Run debug_project first."), nil, nil
	}

	opts := findings.QueryOpts{
		PatternType:  args.PatternType,
		File:         args.File,
		FilePrefix:   args.FilePrefix,
		MinAmplitude: args.MinAmplitude,
		Limit:        args.Limit,
		Offset:       args.Offset,
	}
	if args.Scale != "" {
		scale, err := findings.ParseScale(args.Scale)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		opts.Scale = scale
	}
	if opts.Limit <= 0 || opts.Limit > maxQueryResults {
		opts.Limit = maxQueryResults
	}

	results, total := s.eng.QueryFindings(opts)
	if results == nil {
		results = []findings.PatternMatch{}
	}
	data, err := findings.IndentJSON(results)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal results: %v", err)), nil, nil
	}

	text := string(data)
	if shown := opts.Offset + len(results); shown < total {
		text += fmt.Sprintf("\n\n... (showing %d of %d results, refine your query or page with offset)", len(results), total)
	}
	return textResult(text), nil, nil
}

func (s *Server) cleanupBackups(ctx context.Context, req *mcp.CallToolRequest, args cleanupBackupsArgs) (*mcp.CallToolResult, any, error) {
	n := s.eng.CleanupBackups(args.MaxAgeDays)
	return textResult(fmt.Sprintf("Removed %d backup(s).", n)), nil, nil
}

func (s *Server) listBackups(ctx context.Context, req *mcp.CallToolRequest, args listBackupsArgs) (*mcp.CallToolResult, any, error) {
	backups := s.eng.Backups()
	if len(backups) == 0 {
		return textResult("No retained backups."), nil, nil
	}
	return jsonResult(backups)
}

func (s *Server) restoreBackup(ctx context.Context, req *mcp.CallToolRequest, args restoreBackupArgs) (*mcp.CallToolResult, any, error) {
	if args.BackupID == "" {
		return errorResult("backup_id is required"), nil, nil
	}
	files, err := s.eng.RestoreBackup(args.BackupID)
	if err != nil {
		return errorResult(fmt.Sprintf("restore failed: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Restored %d file(s):\n%s", len(files), strings.Join(files, "\n"))), nil, nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := findings.IndentJSON(v)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err)), nil, nil
	}
	return textResult(string(data)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
