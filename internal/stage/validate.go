package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rodaddy/audiobook-pipeline/internal/diskspace"
	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/hashid"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
)

// FilesListName is the work-directory file validate writes: one shell-quoted
// source path per line, in sorted (version-aware) order.
const FilesListName = "files.txt"

// Validate scans the source for audio files, probes each one, and runs the
// disk-space pre-flight. A missing source, zero audio files, or an
// unreadable file are all permanent failures; insufficient disk space is
// also permanent, since retrying without operator intervention won't help.
func Validate(ctx context.Context, c *Context) error {
	info, err := os.Stat(c.SourcePath)
	if err != nil {
		return errs.WrapPermanent("validate", 2, err, "source path does not exist")
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(c.SourcePath)
		if err != nil {
			return errs.WrapPermanent("validate", 2, err, "cannot read source directory")
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if hashid.IsAudioFile(e.Name()) {
				files = append(files, filepath.Join(c.SourcePath, e.Name()))
			}
		}
	} else if hashid.IsAudioFile(c.SourcePath) || strings.EqualFold(filepath.Ext(c.SourcePath), ".m4b") {
		files = []string{c.SourcePath}
	}

	if len(files) == 0 {
		return errs.Permanentf("validate", 2, "no recognized audio files found under %s", c.SourcePath)
	}
	hashid.SortAudioFiles(files)

	var totalDuration float64
	for _, f := range files {
		pr, err := c.Prober.Probe(ctx, f)
		if err != nil {
			return errs.WrapPermanent("validate", 2, err, fmt.Sprintf("unreadable source file %s", f))
		}
		totalDuration += pr.DurationSec
	}

	sourceBytes, err := hashid.FileSize(c.SourcePath)
	if err != nil {
		return errs.WrapPermanent("validate", 2, err, "cannot measure source size")
	}

	if err := os.MkdirAll(c.WorkDir, 0o755); err != nil {
		return errs.WrapPermanent("validate", 2, err, "cannot create work directory")
	}
	if err := diskspace.Check(c.WorkDir, sourceBytes); err != nil {
		return errs.WrapPermanent("validate", 2, err, "insufficient free disk space")
	}
	if err := writeFilesList(filepath.Join(c.WorkDir, FilesListName), files); err != nil {
		return errs.WrapPermanent("validate", 2, err, "cannot write file list")
	}

	if _, err := c.Manifest.SetStage(c.BookHash, "validate", manifest.StageCompleted, map[string]any{
		"file_count":       len(files),
		"total_duration_s": totalDuration,
	}); err != nil {
		return errs.WrapTransient("validate", 1, err, "cannot write manifest")
	}
	return nil
}

// shellQuote wraps s in single quotes, escaping embedded single quotes the
// POSIX-shell way: close the quote, emit an escaped quote, reopen.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func writeFilesList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(shellQuote(f))
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// readFilesList reverses writeFilesList: strips the single-quote wrapping
// and unescapes embedded quotes.
func readFilesList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		unquoted := strings.TrimPrefix(strings.TrimSuffix(line, "'"), "'")
		unquoted = strings.ReplaceAll(unquoted, `'\''`, "'")
		out = append(out, unquoted)
	}
	return out, nil
}
