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

func TestCleanup_RemovesWorkDirWhenEnabled(t *testing.T) {
	probeScript := fakeProbeScript(t, "60")
	c, _ := newTestContext(t, probeScript)
	c.SourcePath = "/unused"
	c.Cfg.Flags.CleanupWorkDir = true
	require.NoError(t, os.MkdirAll(c.WorkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.WorkDir, "leftover.txt"), []byte("x"), 0o644))

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Cleanup(context.Background(), c)
	require.NoError(t, err)

	assert.NoDirExists(t, c.WorkDir)

	m, err := c.Manifest.Read(c.BookHash)
	require.NoError(t, err)
	assert.Equal(t, manifest.StageCompleted, m.Stages["cleanup"].Status)
	assert.Equal(t, true, m.Stages["cleanup"].Extra["removed"])
}

func TestCleanup_LeavesWorkDirWhenDisabled(t *testing.T) {
	probeScript := fakeProbeScript(t, "60")
	c, _ := newTestContext(t, probeScript)
	c.SourcePath = "/unused"
	c.Cfg.Flags.CleanupWorkDir = false
	require.NoError(t, os.MkdirAll(c.WorkDir, 0o755))

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Cleanup(context.Background(), c)
	require.NoError(t, err)

	assert.DirExists(t, c.WorkDir)
}

func TestCleanup_MissingWorkDirIsAlreadyClean(t *testing.T) {
	probeScript := fakeProbeScript(t, "60")
	c, _ := newTestContext(t, probeScript)
	c.SourcePath = "/unused"
	c.Cfg.Flags.CleanupWorkDir = true

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Cleanup(context.Background(), c)
	require.NoError(t, err)
}
