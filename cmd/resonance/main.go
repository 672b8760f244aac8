package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dejo1307/resonance/internal/config"
	"github.com/dejo1307/resonance/internal/engine"
	"github.com/dejo1307/resonance/internal/logging"
	"github.com/dejo1307/resonance/internal/metrics"
	"github.com/dejo1307/resonance/internal/server"
)

var (
	cfgPath     string
	metricsFile string
	logLevel    string
	outputJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "resonance",
	Short: "Resonance - multi-scale defect detection and remediation",
	Long: `Resonance scans source files for known defect signatures, measures how strongly
each defect manifests at the micro, meso, macro and meta scales, plans template-based
fixes and applies them with backup, rollback and cascade measurement.

Run "resonance serve" to expose the engine to MCP clients over stdio.`,
	Version:       server.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsFile == "" {
			return nil
		}
		return metrics.WriteTextfile(metricsFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "resonance.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print results as JSON")
}

// setup loads the configuration and builds the logger. Logs go to stderr;
// stdout carries command output and the MCP stream.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		logger.Warn("config file not found, using defaults", zap.String("path", cfgPath))
	}
	return cfg, logger, nil
}

// openEngine builds the engine for a command. The returned cleanup closes the
// engine and flushes the logger.
func openEngine() (*engine.Engine, *zap.Logger, func(), error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := engine.New(cfg, logger)
	if err != nil {
		logging.Sync(logger)
		return nil, nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("closing engine", zap.Error(err))
		}
		logging.Sync(logger)
	}
	return eng, logger, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
