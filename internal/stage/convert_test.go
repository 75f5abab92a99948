package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEncodeScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeencode.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func setupConvertContext(t *testing.T, probeDuration string) *Context {
	t.Helper()
	probeScript := fakeProbeScript(t, probeDuration)
	c, _ := newTestContext(t, probeScript)
	c.SourcePath = "/unused"
	c.Encoder = &tool.Encoder{BinPath: fakeEncodeScript(t), Run: c.Runner}

	require.NoError(t, os.MkdirAll(c.WorkDir, 0o755))
	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)
	_, err = c.Manifest.SetStage(c.BookHash, "concat", manifest.StageCompleted, map[string]any{
		"concat_list_path":  filepath.Join(c.WorkDir, concatListName),
		"chapter_meta_path": "",
		"bitrate_kbps":      64,
		"channels":          1,
		"sample_rate_hz":    defaultSampleRate,
	})
	require.NoError(t, err)
	return c
}

func TestConvert_SucceedsAndPersistsOutputPath(t *testing.T) {
	c := setupConvertContext(t, "3600")

	err := Convert(context.Background(), c)
	require.NoError(t, err)

	m, err := c.Manifest.Read(c.BookHash)
	require.NoError(t, err)
	rec := m.Stages["convert"]
	assert.Equal(t, manifest.StageCompleted, rec.Status)
	assert.Equal(t, filepath.Join(c.WorkDir, OutputName), rec.Extra["output_path"])
}

func TestConvert_ZeroDurationOutputIsTransient(t *testing.T) {
	c := setupConvertContext(t, "0")

	err := Convert(context.Background(), c)
	require.Error(t, err)
}

func TestConvert_NonAACCodecIsTransient(t *testing.T) {
	c := setupConvertContext(t, "60")
	dir := t.TempDir()
	script := filepath.Join(dir, "fakeprobe-mp3.sh")
	json := `{"format": {"duration": "60", "bit_rate": "64000", "format_name": "mov,mp4,m4a"},
		"streams": [{"codec_type": "audio", "codec_name": "mp3", "channels": 1}], "chapters": []}`
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat <<'EOF'\n"+json+"\nEOF\n"), 0o755))
	c.Prober = &tool.Prober{BinPath: script, Run: c.Runner}

	err := Convert(context.Background(), c)
	require.Error(t, err)
}
