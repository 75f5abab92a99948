package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrganizeStage_DeploysWithSeriesAndYear(t *testing.T) {
	probeScript := fakeProbeScript(t, "60")
	c, root := newTestContext(t, probeScript)
	c.SourcePath = "/unused"
	c.Cfg.Paths.NFSOutputDir = filepath.Join(root, "library")
	require.NoError(t, os.MkdirAll(c.Cfg.Paths.NFSOutputDir, 0o755))

	require.NoError(t, os.MkdirAll(c.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.WorkDir, OutputName), []byte("fake-m4b-data"), 0o644))

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)
	_, err = c.Manifest.Update(c.BookHash, func(m *manifest.Manifest) {
		m.BookMeta = map[string]any{
			"author":          "Brandon Sanderson",
			"title":           "The Way of Kings",
			"series_name":     "The Stormlight Archive",
			"series_position": 1.0,
			"release_date":    "2010-08-31",
		}
	})
	require.NoError(t, err)

	err = Organize(context.Background(), c)
	require.NoError(t, err)

	expectedDir := filepath.Join(c.Cfg.Paths.NFSOutputDir, "Brandon Sanderson", "The Stormlight Archive", "01 - The Way of Kings (2010)")
	expectedFile := filepath.Join(expectedDir, "The Way of Kings.m4b")
	assert.FileExists(t, expectedFile)

	m, err := c.Manifest.Read(c.BookHash)
	require.NoError(t, err)
	assert.Equal(t, expectedFile, m.Stages["organize"].Extra["destination_path"])
}

func TestOrganizeStage_IsIdempotentOnMatchingSize(t *testing.T) {
	probeScript := fakeProbeScript(t, "60")
	c, root := newTestContext(t, probeScript)
	c.SourcePath = "/unused"
	c.Cfg.Paths.NFSOutputDir = filepath.Join(root, "library")
	require.NoError(t, os.MkdirAll(c.Cfg.Paths.NFSOutputDir, 0o755))

	require.NoError(t, os.MkdirAll(c.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.WorkDir, OutputName), []byte("same-size-data"), 0o644))

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Organize(context.Background(), c)
	require.NoError(t, err)

	// Second run with the same source content should not error, even
	// though the destination file already exists.
	err = Organize(context.Background(), c)
	require.NoError(t, err)
}

func TestBuildPlexPath_WithoutSeriesOmitsSeriesFolder(t *testing.T) {
	dir, file := buildPlexPath("/library", pathComponents{
		Author: "Unknown Author",
		Title:  "Standalone Book",
		Year:   "2020",
	})
	assert.Equal(t, filepath.Join("/library", "Unknown Author", "Standalone Book (2020)"), dir)
	assert.Equal(t, "Standalone Book.m4b", file)
}
