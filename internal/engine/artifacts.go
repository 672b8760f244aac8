package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/analysis"
	"github.com/dejo1307/resonance/internal/catalog"
	"github.com/dejo1307/resonance/internal/checkpoint"
	"github.com/dejo1307/resonance/internal/executor"
	"github.com/dejo1307/resonance/internal/findings"
	"github.com/dejo1307/resonance/internal/report"
)

// Artifact names served by GetArtifact and written by WriteArtifacts.
const (
	ArtifactFindings      = "findings.jsonl"
	ArtifactSummary       = "summary.json"
	ArtifactInterventions = "interventions.json"
	ArtifactReport        = report.ArtifactName
)

// Artifacts lists every artifact name.
var Artifacts = []string{ArtifactFindings, ArtifactSummary, ArtifactInterventions, ArtifactReport}

type summaryDoc struct {
	GeneratedAt string                  `json:"generated_at"`
	Summary     analysis.Summary        `json:"summary"`
	TopPatterns []catalog.RankedPattern `json:"top_patterns"`
	Skipped     []analysis.SkippedFile  `json:"skipped,omitempty"`
	Batch       *executor.BatchResult   `json:"batch,omitempty"`
}

// OutputDir returns the resolved artifact directory.
func (e *Engine) OutputDir() string {
	return resolve(e.cfg.Repo, e.cfg.Output.Dir)
}

// WriteArtifacts writes every artifact of the last analysis to the output
// directory.
func (e *Engine) WriteArtifacts() error {
	outDir := e.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	for _, name := range Artifacts {
		data, err := e.GetArtifact(name)
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, name)
		if err := checkpoint.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		e.logger.Debug("wrote artifact", zap.String("path", path), zap.Int("bytes", len(data)))
	}
	e.logger.Info("artifacts written", zap.String("dir", outDir))
	return nil
}

// GetArtifact renders a named artifact of the last analysis.
func (e *Engine) GetArtifact(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.project == nil {
		return nil, ErrNoAnalysis
	}

	switch name {
	case ArtifactFindings:
		var buf bytes.Buffer
		if err := e.store.WriteJSONL(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ArtifactSummary:
		return findings.IndentJSON(summaryDoc{
			GeneratedAt: e.project.GeneratedAt.Format(time.RFC3339),
			Summary:     e.project.Summary,
			TopPatterns: e.project.TopPatterns,
			Skipped:     e.project.Skipped,
			Batch:       e.batch,
		})
	case ArtifactInterventions:
		ivs := e.project.Interventions()
		if ivs == nil {
			return []byte("[]"), nil
		}
		return findings.IndentJSON(ivs)
	case ArtifactReport:
		return e.renderer.Render(e.project, e.batch), nil
	default:
		return nil, fmt.Errorf("artifact %q not found", name)
	}
}
