// Package executor applies interventions transactionally and measures their
// cascade effect.
package executor

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/checkpoint"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/inspector"
	"github.com/dejo1307/resonance/internal/metrics"
	"github.com/dejo1307/resonance/internal/resonance"
)

// Application errors, wrapped into result messages.
var (
	ErrLineOutOfRange = errors.New("line out of range")
	ErrNoOp           = errors.New("no-op: pattern did not change the line")
	ErrFileNotFound   = checkpoint.ErrFileNotFound
	ErrUnknownPattern = catalog.ErrUnknownPattern
)

// DefaultBuildImpact is the build cascade floor when no table is configured.
const DefaultBuildImpact = 0.3

// RollbackMessage marks results undone by a failed atomic batch.
const RollbackMessage = "batch rollback due to other intervention failure"

// runtimeImpact is the runtime cascade floor of each remediation. Pointer and
// lifetime fixes rank highest.
var runtimeImpact = map[findings.ResonancePoint]float64{
	findings.PointSmartPointer:       0.8,
	findings.PointLifetimeManagement: 0.8,
	findings.PointNullGuard:          0.7,
	findings.PointThreadSafety:       0.7,
	findings.PointInitialization:     0.6,
	findings.PointErrorHandling:      0.5,
	findings.PointAPIMigration:       0.3,
	findings.PointConstCorrectness:   0.2,
	findings.PointModuleDependency:   0.2,
	findings.PointIncludeHygiene:     0.1,
}

// Options tune the executor.
type Options struct {
	// BuildImpact returns the build cascade floor of a pattern type. Nil uses
	// DefaultBuildImpact for every pattern.
	BuildImpact func(patternType string) float64
	// RecordFailures records individually failed interventions in the pattern
	// history. Rolled-back successes are never recorded.
	RecordFailures bool
}

// Executor applies interventions. It is not safe for concurrent use; callers
// serialise batches that may touch the same files.
type Executor struct {
	catalog     *catalog.Catalog
	inspector   *inspector.Inspector
	checkpoints *checkpoint.Store
	opts        Options
	logger      *zap.Logger
}

// New creates an Executor.
func New(cat *catalog.Catalog, in *inspector.Inspector, cps *checkpoint.Store, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		catalog:     cat,
		inspector:   in,
		checkpoints: cps,
		opts:        opts,
		logger:      logger.Named("executor"),
	}
}

// BatchResult summarises one batch.
type BatchResult struct {
	Total           int                           `json:"total"`
	Successful      int                           `json:"successful"`
	Failed          int                           `json:"failed"`
	SuccessRate     float64                       `json:"success_rate"`
	AvgCascadeScore float64                       `json:"avg_cascade_score"`
	RolledBack      bool                          `json:"rolled_back"`
	Results         []findings.InterventionResult `json:"results"`
}

// ApplyOne snapshots the target file, applies the intervention and measures
// its cascade. On failure the file is restored; on success the snapshot is
// retained for the retention policy.
func (e *Executor) ApplyOne(iv findings.Intervention) findings.InterventionResult {
	start := time.Now()
	res := findings.InterventionResult{Intervention: iv}

	tok, err := e.checkpoints.Begin([]string{iv.FilePath})
	if err != nil {
		res.Error = fmt.Sprintf("backup failed: %v", err)
		return e.finish(res, start)
	}
	res.BackupID = tok.ID

	cascade, err := e.apply(iv)
	if err != nil {
		res.Error = err.Error()
		if rbErr := e.checkpoints.Rollback(tok); rbErr != nil {
			res.Error = fmt.Sprintf("%s; restore failed: %v", res.Error, rbErr)
		}
		return e.finish(res, start)
	}

	e.checkpoints.Retain(tok)
	res.Success = true
	res.Cascade = cascade
	res.FilesModified = []string{iv.FilePath}
	return e.finish(res, start)
}

func (e *Executor) finish(res findings.InterventionResult, start time.Time) findings.InterventionResult {
	res.ExecutionTime = time.Since(start)
	metrics.ApplyDuration.Observe(res.ExecutionTime.Seconds())
	if res.Success {
		metrics.InterventionsApplied.WithLabelValues("success").Inc()
	} else {
		metrics.InterventionsApplied.WithLabelValues("failure").Inc()
		e.logger.Info("intervention failed",
			zap.String("id", res.Intervention.ID),
			zap.String("file", res.Intervention.FilePath),
			zap.Int("line", res.Intervention.LineNumber),
			zap.String("error", res.Error))
	}
	return res
}

// ApplyBatch applies interventions in order. When atomic, every distinct file
// is snapshotted once and any failure restores all of them, turning every
// success into a failure. Individually successful interventions are recorded
// in the pattern history afterwards.
func (e *Executor) ApplyBatch(ivs []findings.Intervention, atomic bool) BatchResult {
	var batch BatchResult
	if atomic {
		batch = e.applyAtomic(ivs)
	} else {
		batch.Results = make([]findings.InterventionResult, 0, len(ivs))
		for _, iv := range ivs {
			batch.Results = append(batch.Results, e.ApplyOne(iv))
		}
	}
	e.record(batch.Results)
	summarise(&batch)
	return batch
}

func (e *Executor) applyAtomic(ivs []findings.Intervention) BatchResult {
	batch := BatchResult{Results: make([]findings.InterventionResult, 0, len(ivs))}
	if len(ivs) == 0 {
		return batch
	}

	var files []string
	seen := make(map[string]bool)
	for _, iv := range ivs {
		if !seen[iv.FilePath] {
			seen[iv.FilePath] = true
			files = append(files, iv.FilePath)
		}
	}

	tok, err := e.checkpoints.Begin(files)
	if err != nil {
		for _, iv := range ivs {
			batch.Results = append(batch.Results, e.finish(findings.InterventionResult{
				Intervention: iv,
				Error:        fmt.Sprintf("batch backup failed: %v", err),
			}, time.Now()))
		}
		return batch
	}

	failed := false
	for _, iv := range ivs {
		start := time.Now()
		res := findings.InterventionResult{Intervention: iv, BackupID: tok.ID}
		cascade, err := e.apply(iv)
		if err != nil {
			res.Error = err.Error()
			failed = true
		} else {
			res.Success = true
			res.Cascade = cascade
			res.FilesModified = []string{iv.FilePath}
		}
		batch.Results = append(batch.Results, e.finish(res, start))
	}

	if !failed {
		if err := e.checkpoints.Commit(tok); err != nil {
			e.logger.Warn("discarding batch checkpoint", zap.String("id", tok.ID), zap.Error(err))
		}
		return batch
	}

	batch.RolledBack = true
	metrics.BatchRollbacks.Inc()
	rbErr := e.checkpoints.Rollback(tok)
	for i := range batch.Results {
		r := &batch.Results[i]
		if !r.Success {
			continue
		}
		metrics.InterventionsApplied.WithLabelValues("rolled_back").Inc()
		r.Success = false
		r.Error = RollbackMessage
		r.Cascade = nil
		r.FilesModified = nil
		if rbErr != nil {
			r.Error = fmt.Sprintf("%s; restore failed: %v", RollbackMessage, rbErr)
		}
	}
	e.logger.Warn("atomic batch rolled back",
		zap.String("checkpoint", tok.ID),
		zap.Int("interventions", len(ivs)),
		zap.Int("files", len(files)))
	return batch
}

func (e *Executor) record(results []findings.InterventionResult) {
	for _, r := range results {
		iv := r.Intervention
		switch {
		case r.Success && r.Cascade != nil:
			e.catalog.RecordOutcome(iv.PatternType, true, r.Cascade.OverallScore, []string{iv.FilePath})
		case !r.Success && e.opts.RecordFailures && !strings.HasPrefix(r.Error, RollbackMessage):
			if _, ok := e.catalog.Signature(iv.PatternType); ok {
				e.catalog.RecordOutcome(iv.PatternType, false, 0, []string{iv.FilePath})
			}
		}
	}
}

func summarise(b *BatchResult) {
	b.Total = len(b.Results)
	var cascade float64
	for _, r := range b.Results {
		if r.Success {
			b.Successful++
			if r.Cascade != nil {
				cascade += r.Cascade.OverallScore
			}
		} else {
			b.Failed++
		}
	}
	if b.Total > 0 {
		b.SuccessRate = float64(b.Successful) / float64(b.Total)
	}
	if b.Successful > 0 {
		b.AvgCascadeScore = cascade / float64(b.Successful)
	}
}

// apply rewrites the intervention's line in place and measures the result. It
// never restores on failure; the caller owns the checkpoint.
func (e *Executor) apply(iv findings.Intervention) (*findings.CascadeMeasurement, error) {
	sig, ok := e.catalog.Signature(iv.PatternType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPattern, iv.PatternType)
	}
	edit, err := catalog.NewMatchReplace(iv.Pattern, iv.Replacement)
	if err != nil {
		return nil, fmt.Errorf("invalid intervention pattern: %w", err)
	}

	info, err := os.Stat(iv.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, iv.FilePath)
	}
	before, err := os.ReadFile(iv.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", iv.FilePath, err)
	}

	after, err := rewriteLine(before, iv.LineNumber, edit)
	if err != nil {
		return nil, err
	}
	if err := checkpoint.WriteFile(iv.FilePath, after, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("writing %s: %w", iv.FilePath, err)
	}

	return e.measure(iv, sig, before, after)
}

// rewriteLine applies edit to the 1-based line n, keeping line endings.
func rewriteLine(content []byte, n int, edit catalog.Edit) ([]byte, error) {
	text := string(content)
	trailing := strings.HasSuffix(text, "\n")
	if trailing {
		text = text[:len(text)-1]
	}
	var lines []string
	if text != "" || trailing {
		lines = strings.Split(text, "\n")
	}
	if n < 1 || n > len(lines) {
		return nil, fmt.Errorf("%w: line %d of %d", ErrLineOutOfRange, n, len(lines))
	}

	line := lines[n-1]
	cr := strings.HasSuffix(line, "\r")
	body := strings.TrimSuffix(line, "\r")
	replaced, changed := edit.Apply(body)
	if !changed {
		return nil, fmt.Errorf("%w (line %d)", ErrNoOp, n)
	}
	if cr {
		replaced += "\r"
	}
	lines[n-1] = replaced

	out := strings.Join(lines, "\n")
	if trailing {
		out += "\n"
	}
	return []byte(out), nil
}

func (e *Executor) measure(iv findings.Intervention, sig *catalog.Signature, before, after []byte) (*findings.CascadeMeasurement, error) {
	baseSrc, err := e.inspector.NewSource(iv.FilePath, before)
	if err != nil {
		return nil, fmt.Errorf("scoring baseline: %w", err)
	}
	newSrc, err := e.inspector.NewSource(iv.FilePath, after)
	if err != nil {
		return nil, fmt.Errorf("scoring result: %w", err)
	}

	m := &findings.CascadeMeasurement{
		BaselineSpectrum: e.inspector.Spectrum(baseSrc, sig),
		NewSpectrum:      e.inspector.Spectrum(newSrc, sig),
		AffectedFiles:    []string{iv.FilePath},
	}
	_, m.BaselineResonance = resonance.ResonantScale(m.BaselineSpectrum)
	_, m.NewResonance = resonance.ResonantScale(m.NewSpectrum)
	m.ResonantShift = m.BaselineResonance - m.NewResonance

	pre := len(e.inspector.Matches(baseSrc, sig))
	post := len(e.inspector.Matches(newSrc, sig))
	observed := 0.0
	if pre > 0 {
		observed = float64(pre-post) / float64(pre)
	}

	prior := iv.CascadePrediction.Clamped()
	m.FileImpact = findings.Clamp01(max(prior.FileImpact, observed))
	m.BuildImpact = findings.Clamp01(max(prior.BuildImpact, e.buildImpact(iv.PatternType)))
	m.RuntimeImpact = findings.Clamp01(max(prior.RuntimeImpact, runtimeImpact[iv.ResonancePoint]))
	m.OverallScore = findings.Clamp01(0.3*m.FileImpact + 0.3*m.BuildImpact + 0.4*m.RuntimeImpact)
	return m, nil
}

func (e *Executor) buildImpact(patternType string) float64 {
	if e.opts.BuildImpact == nil {
		return DefaultBuildImpact
	}
	return e.opts.BuildImpact(patternType)
}

// Backups lists the retained backups, oldest first.
func (e *Executor) Backups() []*checkpoint.Token {
	return e.checkpoints.List()
}

// Cleanup deletes retained backups older than maxAgeDays.
func (e *Executor) Cleanup(maxAgeDays int) int {
	return e.checkpoints.Cleanup(maxAgeDays)
}

// Restore rolls a retained backup back onto disk.
func (e *Executor) Restore(backupID string) ([]string, error) {
	tok, err := e.checkpoints.Open(backupID)
	if err != nil {
		return nil, err
	}
	files := tok.Files()
	if err := e.checkpoints.Rollback(tok); err != nil {
		return nil, err
	}
	return files, nil
}
