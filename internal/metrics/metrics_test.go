package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	FilesScanned.Inc()
	InterventionsApplied.WithLabelValues("success").Inc()

	path := filepath.Join(t.TempDir(), "out", "resonance.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "resonance_inspector_files_scanned_total")
	assert.Contains(t, string(data), `resonance_executor_interventions_applied_total{result="success"}`)
}
