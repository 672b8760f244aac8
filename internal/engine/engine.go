package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/analysis"
	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/checkpoint"
	"github.com/dejo1307/resonance/internal/config"
	"github.com/dejo1307/resonance/internal/executor"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/inspector"
	"github.com/dejo1307/resonance/internal/planner"
	"github.com/dejo1307/resonance/internal/report"
	"github.com/dejo1307/resonance/internal/resonance"
	"github.com/dejo1307/resonance/internal/scope"
	"github.com/dejo1307/resonance/internal/storage"
)

// TopPatternLimit is the number of ranked patterns attached to a project result.
const TopPatternLimit = 10

// ErrNoAnalysis is returned when an operation needs a previous analysis.
var ErrNoAnalysis = errors.New("no analysis has been run")

// Engine runs analysis cycles: scan, analyse resonance, plan interventions,
// apply them and feed the outcomes back into the catalog history. Analysis and
// mutation entry points are serialised.
type Engine struct {
	mu sync.Mutex

	cfg       *config.Config
	logger    *zap.Logger
	catalog   *catalog.Catalog
	history   catalog.HistoryStore
	closer    func() error
	inspector *inspector.Inspector
	planner   *planner.Planner
	executor  *executor.Executor
	renderer  *report.Renderer
	store     *findings.Store

	project *analysis.Project
	batch   *executor.BatchResult
}

// New loads the catalog named by cfg, opens the history database and builds
// an Engine around them. Relative output paths resolve against cfg.Repo.
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cat, err := catalog.Load(cfg.Catalog, logger.Named("catalog"))
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(resolve(cfg.Repo, cfg.History.Path), logger)
	if err != nil {
		return nil, err
	}

	e, err := NewWithCatalog(cfg, cat, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	e.closer = db.Close
	return e, nil
}

// NewWithCatalog builds an Engine around an already-loaded catalog. history
// may be nil, in which case outcomes are kept in memory only.
func NewWithCatalog(cfg *config.Config, cat *catalog.Catalog, history catalog.HistoryStore, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	classifier, err := scope.NewClassifier(scope.Rules{
		MetaKeywords:    cfg.Scale.MetaKeywords,
		MacroKeywords:   cfg.Scale.MacroKeywords,
		MesoKeywords:    cfg.Scale.MesoKeywords,
		FunctionPattern: cfg.Scale.FunctionPattern,
		VarDeclPattern:  cfg.Scale.VarDeclPattern,
		FunctionWindow:  cfg.Scan.FunctionWindow,
		TypeWindow:      cfg.Scan.TypeWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("building scale classifier: %w", err)
	}

	if history != nil {
		if err := cat.LoadHistory(context.Background(), history); err != nil {
			return nil, err
		}
	}

	in := inspector.New(cat, classifier, scope.NewDefaultRegistry(classifier), inspector.Options{
		ContextLines: cfg.Scan.ContextLines,
		MaxFileBytes: cfg.Scan.MaxFileBytes,
		Workers:      cfg.Scan.Workers,
		Extensions:   cfg.Extensions,
	}, logger)

	cps := checkpoint.NewStore(resolve(cfg.Repo, cfg.Backup.Dir), logger)

	return &Engine{
		cfg:       cfg,
		logger:    logger.Named("engine"),
		catalog:   cat,
		history:   history,
		inspector: in,
		planner:   planner.New(cat, planner.Options{MinConfidence: cfg.Planner.MinConfidence}, logger),
		executor: executor.New(cat, in, cps, executor.Options{
			BuildImpact:    cfg.BuildImpact,
			RecordFailures: cfg.History.RecordFailures,
		}, logger),
		renderer: report.New(cfg.Output.MaxReportTokens),
		store:    findings.NewStore(),
	}, nil
}

// Close releases the history database.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	err := e.closer()
	e.closer = nil
	return err
}

// Config returns the engine config.
func (e *Engine) Config() *config.Config { return e.cfg }

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Store returns the findings store of the last analysis.
func (e *Engine) Store() *findings.Store { return e.store }

// Project returns the last project analysis, or nil.
func (e *Engine) Project() *analysis.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.project
}

// DebugFile analyses a single file against every catalog signature. A file the
// inspector skips (missing, binary, oversized or of a disabled extension) is
// logged and yields an empty result carrying the skip reason.
func (e *Engine) DebugFile(path string) (*analysis.FileResult, error) {
	src, err := e.inspector.Load(path)
	if err != nil {
		var se *inspector.ScanError
		if !errors.As(err, &se) {
			return nil, err
		}
		e.inspector.Skip(err)
		fr := analysis.FileResult{
			File:          path,
			Matches:       []findings.PatternMatch{},
			Analyses:      []resonance.PatternAnalysis{},
			Interventions: []findings.Intervention{},
			SkipReason:    se.Err.Error(),
		}
		analysis.Summarize(&fr)
		return &fr, nil
	}
	fr := e.analyzeSource(src, e.inspector.ScanSource(src))
	return &fr, nil
}

// DebugProject analyses files against every catalog signature.
func (e *Engine) DebugProject(ctx context.Context, files []string) (*analysis.Project, error) {
	return e.analyze(ctx, files, nil)
}

// AnalyzeKnownFiles analyses files against the seeded pattern types only.
// Unknown seed types are ignored; an empty seed analyses every signature.
func (e *Engine) AnalyzeKnownFiles(ctx context.Context, files []string, seedPatternTypes []string) (*analysis.Project, error) {
	if len(seedPatternTypes) == 0 {
		return e.analyze(ctx, files, nil)
	}
	sigs := e.catalog.Filter(seedPatternTypes)
	if len(sigs) == 0 {
		e.logger.Warn("no seeded pattern type is in the catalog",
			zap.Strings("seed", seedPatternTypes))
		return e.analyze(ctx, nil, nil)
	}
	return e.analyze(ctx, files, sigs)
}

// DebugRepo walks root, honouring the ignore globs and enabled extensions, and
// analyses every remaining file.
func (e *Engine) DebugRepo(ctx context.Context, root string) (*analysis.Project, error) {
	if root == "" {
		root = e.cfg.Repo
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}

	files, err := e.walkRepo(absRoot)
	if err != nil {
		return nil, fmt.Errorf("walking repo: %w", err)
	}
	e.logger.Info("collected source files", zap.String("root", absRoot), zap.Int("files", len(files)))
	return e.DebugProject(ctx, files)
}

func (e *Engine) analyze(ctx context.Context, files []string, sigs []*catalog.Signature) (*analysis.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.inspector.ScanFiles(ctx, files, sigs...)
	if err != nil {
		return nil, err
	}

	p := &analysis.Project{GeneratedAt: time.Now().UTC()}
	for _, scan := range res.Files {
		p.Files = append(p.Files, e.analyzeSource(scan.Source, scan.Matches))
	}
	for _, se := range res.Skipped {
		p.Skipped = append(p.Skipped, analysis.SkippedFile{Path: se.Path, Reason: se.Err.Error()})
	}
	p.Summary = analysis.Aggregate(p.Files, len(p.Skipped))
	p.TopPatterns = e.catalog.TopPatterns(TopPatternLimit)

	e.store.Clear()
	e.store.Add(p.Matches()...)
	e.project = p
	e.batch = nil

	e.logger.Info("analysis complete",
		zap.Int("files", p.Summary.FilesAnalyzed),
		zap.Int("skipped", p.Summary.FilesSkipped),
		zap.Int("matches", p.Summary.TotalMatches),
		zap.Int("interventions", p.Summary.TotalInterventions),
		zap.Duration("duration", time.Since(start)))
	return p, nil
}

// analyzeSource builds the per-pattern resonance analyses and interventions of
// one scanned file.
func (e *Engine) analyzeSource(src *inspector.Source, matches []findings.PatternMatch) analysis.FileResult {
	fr := analysis.FileResult{
		File:          src.Path,
		Matches:       matches,
		Analyses:      []resonance.PatternAnalysis{},
		Interventions: []findings.Intervention{},
	}
	if fr.Matches == nil {
		fr.Matches = []findings.PatternMatch{}
	}

	order, _ := analysis.GroupByPattern(matches)
	for _, pt := range order {
		sig, ok := e.catalog.Signature(pt)
		if !ok {
			continue
		}
		fr.Analyses = append(fr.Analyses, resonance.Analyze(pt, e.inspector.Spectrum(src, sig)))
	}
	if ivs := e.planner.Plan(matches); ivs != nil {
		fr.Interventions = ivs
	}
	analysis.Summarize(&fr)
	return fr
}

// Interventions returns the planned interventions of the last analysis with
// the given IDs, in the order given. No IDs returns every planned intervention.
func (e *Engine) Interventions(ids []string) ([]findings.Intervention, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return nil, ErrNoAnalysis
	}
	all := e.project.Interventions()
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]findings.Intervention, len(all))
	for _, iv := range all {
		byID[iv.ID] = iv
	}
	out := make([]findings.Intervention, 0, len(ids))
	for _, id := range ids {
		iv, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("intervention %q not found in the last analysis", id)
		}
		out = append(out, iv)
	}
	return out, nil
}

// ExecuteBatch applies interventions and persists the updated history. A
// history write failure is logged; the batch result stands.
func (e *Engine) ExecuteBatch(ctx context.Context, ivs []findings.Intervention, atomic bool) executor.BatchResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.executor.ApplyBatch(ivs, atomic)
	e.batch = &res

	if e.history != nil {
		if err := e.catalog.SaveHistory(ctx, e.history); err != nil {
			e.logger.Warn("persisting pattern history failed", zap.Error(err))
		}
	}
	e.logger.Info("batch executed",
		zap.Int("total", res.Total),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Bool("atomic", atomic),
		zap.Bool("rolled_back", res.RolledBack))
	return res
}

// TopPatterns returns the n highest-priority patterns.
func (e *Engine) TopPatterns(n int) []catalog.RankedPattern {
	return e.catalog.TopPatterns(n)
}

// QueryFindings filters the matches of the last analysis.
func (e *Engine) QueryFindings(opts findings.QueryOpts) ([]findings.PatternMatch, int) {
	return e.store.Query(opts)
}

// CleanupBackups deletes checkpoints older than maxAgeDays, or the configured
// retention when maxAgeDays <= 0.
func (e *Engine) CleanupBackups(maxAgeDays int) int {
	if maxAgeDays <= 0 {
		maxAgeDays = e.cfg.Backup.RetentionDays
	}
	n := e.executor.Cleanup(maxAgeDays)
	e.logger.Info("backups cleaned", zap.Int("removed", n), zap.Int("max_age_days", maxAgeDays))
	return n
}

// Backups lists the retained checkpoints, oldest first.
func (e *Engine) Backups() []*checkpoint.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executor.Backups()
}

// RestoreBackup restores the files of a retained checkpoint.
func (e *Engine) RestoreBackup(backupID string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executor.Restore(backupID)
}

// walkRepo collects the files under repoPath that are neither ignored nor of a
// disabled extension, as absolute paths. The artifact directory is always
// skipped when it lies inside the repository.
func (e *Engine) walkRepo(repoPath string) ([]string, error) {
	outRel := e.outputDirWithin(repoPath)

	var files []string
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		if e.isIgnored(relPath, d.IsDir()) || isUnder(relPath, outRel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() && d.Type().IsRegular() && e.cfg.IsExtensionEnabled(filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// outputDirWithin returns the artifact directory relative to repoPath, or ""
// when it lies outside the repository.
func (e *Engine) outputDirWithin(repoPath string) string {
	outDir, err := filepath.Abs(e.OutputDir())
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(repoPath, outDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

func isUnder(relPath, dir string) bool {
	if dir == "" {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	return relPath == dir || strings.HasPrefix(relPath, dir+"/")
}

// isIgnored checks whether a path matches any ignore pattern.
func (e *Engine) isIgnored(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)

	for _, pattern := range e.cfg.Ignore {
		if strings.HasSuffix(pattern, "/**") {
			dirPrefix := strings.TrimSuffix(pattern, "/**")
			if relPath == dirPrefix || strings.HasPrefix(relPath, dirPrefix+"/") {
				return true
			}
		}

		if matched, err := filepath.Match(pattern, relPath); err == nil && matched {
			return true
		}

		// **/*.ext matches the file name at any depth
		if strings.HasPrefix(pattern, "**/") && !isDir {
			sub := strings.TrimPrefix(pattern, "**/")
			if matched, err := filepath.Match(sub, filepath.Base(relPath)); err == nil && matched {
				return true
			}
			if matched, err := filepath.Match(sub, relPath); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
