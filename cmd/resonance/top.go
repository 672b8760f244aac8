package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank pattern types by learned priority",
	Args:  cobra.NoArgs,
	RunE:  runTop,
}

func init() {
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 10, "Number of patterns to show (0 for all)")
	rootCmd.AddCommand(topCmd)
}

func runTop(cmd *cobra.Command, args []string) error {
	eng, _, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ranked := eng.TopPatterns(topLimit)
	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, ranked)
	}

	fmt.Fprintf(out, "%-4s %-36s %-9s %s\n", "#", "PATTERN", "SEVERITY", "PRIORITY")
	for i, rp := range ranked {
		fmt.Fprintf(out, "%-4d %-36s %-9s %.3f", i+1, rp.PatternType, rp.Severity, rp.Priority)
		if h, ok := eng.Catalog().History(rp.PatternType); ok {
			fmt.Fprintf(out, "  (%d outcomes, %.0f%% fixed)", h.DetectionCount, h.FixSuccessRate*100)
		}
		fmt.Fprintln(out)
	}
	return nil
}
