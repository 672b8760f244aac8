package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dejo1307/resonance/internal/analysis"
	"github.com/dejo1307/resonance/internal/engine"
)

var scanSeed []string

var scanCmd = &cobra.Command{
	Use:   "scan [files...]",
	Short: "Analyse files or the configured repository",
	Long: `Analyse files for defect signatures and plan interventions. Without arguments the
configured repository is walked. Artifacts are written to the output directory.

Examples:
  resonance scan
  resonance scan Source/Game/Actor.cpp Source/Game/Weapon.cpp
  resonance scan --seed null_pointer_access Source/Game/Actor.cpp`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanSeed, "seed", nil, "Restrict the analysis to these pattern types")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	eng, _, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := analyze(cmd, eng, args, scanSeed)
	if err != nil {
		return err
	}
	if err := eng.WriteArtifacts(); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), p)
	}
	printSummary(cmd.OutOrStdout(), p)
	fmt.Fprintf(cmd.OutOrStdout(), "  Output:        %s\n", eng.OutputDir())
	return nil
}

func analyze(cmd *cobra.Command, eng *engine.Engine, files, seed []string) (*analysis.Project, error) {
	ctx := cmd.Context()
	switch {
	case len(files) == 0 && len(seed) == 0:
		return eng.DebugRepo(ctx, "")
	case len(files) == 0:
		return nil, fmt.Errorf("--seed needs an explicit file list")
	case len(seed) > 0:
		return eng.AnalyzeKnownFiles(ctx, files, seed)
	default:
		return eng.DebugProject(ctx, files)
	}
}

func printSummary(w io.Writer, p *analysis.Project) {
	s := p.Summary
	fmt.Fprintf(w, "\nAnalysis complete:\n")
	fmt.Fprintf(w, "  Files:         %d (%d skipped)\n", s.FilesAnalyzed, s.FilesSkipped)
	fmt.Fprintf(w, "  Matches:       %d\n", s.TotalMatches)
	fmt.Fprintf(w, "  Interventions: %d\n", s.TotalInterventions)
	fmt.Fprintf(w, "  Systemic:      %v\n", s.SystemicPatterns)
	for i, rp := range p.TopPatterns {
		if i == 3 {
			break
		}
		fmt.Fprintf(w, "  Top %d:         %s (priority %.3f, %d matches)\n",
			i+1, rp.PatternType, rp.Priority, s.PatternCounts[rp.PatternType])
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
