package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile_ProducesParsableOutput(t *testing.T) {
	StageMetrics.StagesCompleted.WithLabelValues("validate").Inc()
	StageMetrics.BooksCompleted.Inc()

	path := filepath.Join(t.TempDir(), "pipeline.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "audiobook_pipeline_stages_completed_total")
	assert.Contains(t, out, "audiobook_pipeline_books_completed_total")
}

func TestWriteTextfile_IsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.prom")
	require.NoError(t, WriteTextfile(path))
	require.NoError(t, WriteTextfile(path))
	assert.FileExists(t, path)
}
