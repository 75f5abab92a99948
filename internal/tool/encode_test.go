package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rodaddy/audiobook-pipeline/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeExecScript(t *testing.T, recordArgsTo string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeexec.sh")
	script := "#!/bin/sh\necho \"$@\" > " + recordArgsTo + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestEncode_BuildsSinglePassInvocation(t *testing.T) {
	recorded := filepath.Join(t.TempDir(), "args.txt")
	script := fakeExecScript(t, recorded)

	e := &Encoder{BinPath: script, Run: runner.New(false)}
	err := e.Encode(context.Background(), EncodeSpec{
		ConcatListPath:  "/work/files.txt",
		ChapterMetaPath: "/work/chapters.txt",
		OutputPath:      "/work/output.m4b",
		BitrateKbps:     64,
		Channels:        1,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(recorded)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "/work/files.txt")
	assert.Contains(t, out, "/work/chapters.txt")
	assert.Contains(t, out, "+faststart")
	assert.Contains(t, out, "64k")
}

func TestEncode_OmitsChapterMapWhenNoChapterFile(t *testing.T) {
	recorded := filepath.Join(t.TempDir(), "args.txt")
	script := fakeExecScript(t, recorded)

	e := &Encoder{BinPath: script, Run: runner.New(false)}
	err := e.Encode(context.Background(), EncodeSpec{
		ConcatListPath: "/work/files.txt",
		OutputPath:     "/work/output.m4b",
		BitrateKbps:    64,
		Channels:       1,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(recorded)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "-map_metadata")
}
