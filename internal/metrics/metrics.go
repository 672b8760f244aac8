// Package metrics provides Prometheus metrics for scans and interventions.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resonance"

var (
	// FilesScanned counts files read and scanned.
	FilesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inspector",
			Name:      "files_scanned_total",
			Help:      "Total number of files scanned",
		},
	)

	// FilesSkipped counts files skipped by the scanner.
	// Labels: reason (unsupported, binary, too_large, unreadable, error)
	FilesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inspector",
			Name:      "files_skipped_total",
			Help:      "Total number of files skipped by reason",
		},
		[]string{"reason"},
	)

	// MatchesFound counts pattern matches.
	MatchesFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inspector",
			Name:      "matches_total",
			Help:      "Total number of pattern matches found",
		},
	)

	// InterventionsPlanned counts interventions produced by the planner.
	InterventionsPlanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "interventions_total",
			Help:      "Total number of interventions planned",
		},
	)

	// InterventionsApplied counts applied interventions.
	// Labels: result (success, failure, rolled_back)
	InterventionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "interventions_applied_total",
			Help:      "Total number of intervention applications by result",
		},
		[]string{"result"},
	)

	// BatchRollbacks counts atomic batches rolled back.
	BatchRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "batch_rollbacks_total",
			Help:      "Total number of atomic batches rolled back",
		},
	)

	// ApplyDuration tracks how long a single intervention takes to apply and measure.
	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "apply_duration_seconds",
			Help:      "Duration of intervention application in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// WriteTextfile writes the default registry in the node-exporter textfile
// format to path.
func WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
