package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rodaddy/audiobook-pipeline/internal/config"
	"github.com/rodaddy/audiobook-pipeline/internal/logger"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/runner"
	"github.com/rodaddy/audiobook-pipeline/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProbeScript(t *testing.T, durationSec string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeprobe.sh")
	json := `{"format": {"duration": "` + durationSec + `", "bit_rate": "64000", "format_name": "mov,mp4,m4a"},
		"streams": [{"codec_type": "audio", "codec_name": "aac", "channels": 1}], "chapters": []}`
	script := "#!/bin/sh\ncat <<'EOF'\n" + json + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestContext(t *testing.T, probeScript string) (*Context, string) {
	t.Helper()
	root := t.TempDir()
	manifestDir := filepath.Join(root, "manifests")
	store, err := manifest.NewStore(manifestDir, 3)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Paths.WorkDir = filepath.Join(root, "work")

	r := runner.New(false)
	c := &Context{
		Cfg:      cfg,
		Manifest: store,
		BookHash: "deadbeefcafef00d",
		WorkDir:  filepath.Join(cfg.Paths.WorkDir, "deadbeefcafef00d"),
		Mode:     manifest.ModeConvert,
		Runner:   r,
		Prober:   &tool.Prober{BinPath: probeScript, Run: r},
		Log:      logger.Get(),
	}
	return c, root
}

func TestValidate_MissingSourceIsPermanent(t *testing.T) {
	script := fakeProbeScript(t, "300")
	c, _ := newTestContext(t, script)
	c.SourcePath = "/does/not/exist"
	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Validate(context.Background(), c)
	require.Error(t, err)
}

func TestValidate_SucceedsOnDirectoryOfAudioFiles(t *testing.T) {
	script := fakeProbeScript(t, "120.5")
	c, root := newTestContext(t, script)

	srcDir := filepath.Join(root, "source")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "ch1.mp3"), []byte("fake"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "ch2.mp3"), []byte("fake"), 0o644))
	c.SourcePath = srcDir

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Validate(context.Background(), c)
	require.NoError(t, err)

	listPath := filepath.Join(c.WorkDir, FilesListName)
	files, err := readFilesList(listPath)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Contains(t, files[0], "ch1.mp3")
	assert.Contains(t, files[1], "ch2.mp3")

	m, err := c.Manifest.Read(c.BookHash)
	require.NoError(t, err)
	assert.Equal(t, manifest.StageCompleted, m.Stages["validate"].Status)
}

func TestValidate_NoAudioFilesIsPermanent(t *testing.T) {
	script := fakeProbeScript(t, "120")
	c, root := newTestContext(t, script)

	srcDir := filepath.Join(root, "empty-source")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "readme.txt"), []byte("not audio"), 0o644))
	c.SourcePath = srcDir

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Validate(context.Background(), c)
	require.Error(t, err)
}

func TestShellQuote_RoundTripsEmbeddedQuotes(t *testing.T) {
	files := []string{"/a/b's file.mp3", "/plain/path.mp3"}
	dir := t.TempDir()
	listPath := filepath.Join(dir, FilesListName)
	require.NoError(t, writeFilesList(listPath, files))

	got, err := readFilesList(listPath)
	require.NoError(t, err)
	assert.Equal(t, files, got)
}
