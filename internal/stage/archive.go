package stage

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/hashid"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
)

// sizeTolerancePercent bounds the file-size-vs-bitrate sanity check in the
// 6-point integrity gate.
const sizeTolerancePercent = 0.10

// Archive validates the organized library output, then moves the original
// source files out of the incoming directory into ARCHIVE_DIR. Any
// integrity-gate failure is transient — it never destroys originals, and
// a later organize re-run may produce a file that passes.
func Archive(ctx context.Context, c *Context) error {
	m, err := c.Manifest.Read(c.BookHash)
	if err != nil || m == nil {
		return errs.WrapPermanent("archive", 2, err, "cannot read manifest")
	}
	destPath, _ := m.Stages["organize"].Extra["destination_path"].(string)
	if destPath == "" {
		return errs.Permanentf("archive", 2, "organize did not record a destination path")
	}

	bitrateKbps := intFromAny(m.Stages["concat"].Extra["bitrate_kbps"])
	if err := verifyIntegrity(ctx, c, destPath, bitrateKbps); err != nil {
		return errs.WrapTransient("archive", 1, err, "organized output failed integrity check")
	}

	if err := moveOriginals(c.SourcePath, c.Cfg.Paths.ArchiveDir); err != nil {
		return errs.WrapTransient("archive", 1, err, "cannot move originals to archive")
	}

	if _, err := c.Manifest.SetStage(c.BookHash, "archive", manifest.StageCompleted, nil); err != nil {
		return errs.WrapTransient("archive", 1, err, "cannot write manifest")
	}
	return nil
}

// verifyIntegrity runs the 6-point check on the organized M4B: exists and
// non-empty, probe parses it, positive duration, AAC codec, mp4/mov
// container, and file size within tolerance of bitrate*duration/8 (skipped
// if bitrate is unknown).
func verifyIntegrity(ctx context.Context, c *Context, path string, bitrateKbps int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errs.Transientf("archive", 1, "organized output %s is empty", path)
	}

	pr, err := c.Prober.Probe(ctx, path)
	if err != nil {
		return err
	}
	if pr.DurationSec <= 0 {
		return errs.Transientf("archive", 1, "organized output has zero duration")
	}
	if pr.Codec != "aac" {
		return errs.Transientf("archive", 1, "organized output codec is %q, expected aac", pr.Codec)
	}
	if !strings.Contains(pr.FormatName, "mp4") && !strings.Contains(pr.FormatName, "mov") {
		return errs.Transientf("archive", 1, "organized output format %q is not an mp4/mov container", pr.FormatName)
	}

	if bitrateKbps > 0 {
		expected := float64(bitrateKbps) * 1000 * pr.DurationSec / 8
		actual := float64(info.Size())
		if math.Abs(actual-expected)/expected > sizeTolerancePercent {
			c.Log.WithStage("archive", c.BookHash).Warn().
				Float64("expected_bytes", expected).
				Int64("actual_bytes", info.Size()).
				Msg("organized output size outside bitrate-derived tolerance")
		}
	}
	return nil
}

// moveOriginals moves every source file into archiveBase/<book_name>/. If
// the source is already gone (a prior run completed this step), it's a
// no-op success.
func moveOriginals(sourcePath, archiveBase string) error {
	info, err := os.Stat(sourcePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	bookName := hashid.Sanitize(filepath.Base(filepath.Clean(sourcePath)))
	destDir := filepath.Join(archiveBase, bookName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(sourcePath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(sourcePath, e.Name()))
			}
		}
	} else {
		files = []string{sourcePath}
	}

	same, err := sameFilesystem(sourcePath, archiveBase)
	if err != nil {
		same = false
	}

	for _, f := range files {
		destFile := filepath.Join(destDir, filepath.Base(f))
		if same {
			if err := os.Rename(f, destFile); err != nil {
				return err
			}
			continue
		}
		if err := copyThenVerify(f, destFile); err != nil {
			return err
		}
		if err := os.Remove(f); err != nil {
			return err
		}
	}

	if info.IsDir() {
		_ = os.Remove(sourcePath)
	}
	return nil
}

func copyThenVerify(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	dstInfo, err := os.Stat(dst)
	if err != nil {
		return err
	}
	if dstInfo.Size() != srcInfo.Size() {
		return errs.Transientf("archive", 1, "copy size mismatch for %s: wrote %d, source is %d", src, dstInfo.Size(), srcInfo.Size())
	}
	return nil
}
