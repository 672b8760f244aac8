package main

import (
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/engine"
	"github.com/dejo1307/resonance/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Run the MCP server on the stdio transport.

Tools: debug_file, debug_project, execute_batch, top_patterns, query_findings,
list_backups, cleanup_backups, restore_backup. Resources: resonance://report, resonance://findings,
resonance://summary, resonance://interventions.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, logger, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	// Previous findings let query_findings answer before the first analysis.
	prev := filepath.Join(eng.OutputDir(), engine.ArtifactFindings)
	if err := eng.Store().ReadJSONLFile(prev); err == nil {
		logger.Info("loaded previous findings", zap.String("path", prev), zap.Int("matches", eng.Store().Count()))
	} else {
		eng.Store().Clear()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(eng, logger).Run(ctx)
}
