package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	applySeed   []string
	applyAtomic bool
	applyDryRun bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [files...]",
	Short: "Analyse and apply planned interventions",
	Long: `Analyse files (or the configured repository), then apply the planned interventions.
Every file is backed up first. With --atomic (the default) any failure restores every
file of the batch.

Examples:
  resonance apply --dry-run
  resonance apply Source/Game/Actor.cpp
  resonance apply --atomic=false --seed null_pointer_access Source/Game/Actor.cpp`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringSliceVar(&applySeed, "seed", nil, "Restrict the analysis to these pattern types")
	applyCmd.Flags().BoolVar(&applyAtomic, "atomic", true, "Roll back the whole batch when any intervention fails")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "List the interventions without applying them")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	eng, _, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := analyze(cmd, eng, args, applySeed); err != nil {
		return err
	}
	ivs, err := eng.Interventions(nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if applyDryRun {
		if outputJSON {
			return printJSON(out, ivs)
		}
		for _, iv := range ivs {
			fmt.Fprintf(out, "%s  %s:%d  %s (%.2f)\n    - %s\n    + %s\n",
				iv.ID, iv.FilePath, iv.LineNumber, iv.ResonancePoint, iv.Confidence,
				iv.OriginalCode, iv.ReplacementCode)
		}
		fmt.Fprintf(out, "\n%d intervention(s) planned.\n", len(ivs))
		return nil
	}
	if len(ivs) == 0 {
		fmt.Fprintln(out, "No interventions to apply.")
		return nil
	}

	res := eng.ExecuteBatch(cmd.Context(), ivs, applyAtomic)
	if err := eng.WriteArtifacts(); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "\nBatch complete:\n")
	fmt.Fprintf(out, "  Applied:      %d of %d\n", res.Successful, res.Total)
	fmt.Fprintf(out, "  Success rate: %.0f%%\n", res.SuccessRate*100)
	fmt.Fprintf(out, "  Avg cascade:  %.2f\n", res.AvgCascadeScore)
	if res.RolledBack {
		fmt.Fprintf(out, "  Rolled back:  every file restored\n")
	}
	for _, r := range res.Results {
		if !r.Success {
			fmt.Fprintf(out, "  FAILED %s:%d: %s\n", r.Intervention.FilePath, r.Intervention.LineNumber, r.Error)
		}
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d intervention(s) failed", res.Failed)
	}
	return nil
}
