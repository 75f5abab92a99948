package stage

import (
	"context"
	"path/filepath"
	"runtime"

	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/tool"
)

// OutputName is the canonical work-directory encoder output filename every
// later stage (metadata, organize, archive) reads from.
const OutputName = "output.m4b"

// Convert runs the single-pass encoder invocation concat prepared, then
// re-probes the result: a failure to parse, zero duration, or a non-AAC
// codec is transient — a later run may succeed once disk/memory pressure
// clears.
func Convert(ctx context.Context, c *Context) error {
	m, err := c.Manifest.Read(c.BookHash)
	if err != nil || m == nil {
		return errs.WrapPermanent("convert", 2, err, "cannot read manifest")
	}
	concatExtra := m.Stages["concat"].Extra

	listPath, _ := concatExtra["concat_list_path"].(string)
	chapterMetaPath, _ := concatExtra["chapter_meta_path"].(string)
	bitrate := intFromAny(concatExtra["bitrate_kbps"])
	channels := intFromAny(concatExtra["channels"])
	sampleRate := intFromAny(concatExtra["sample_rate_hz"])

	outputPath := filepath.Join(c.WorkDir, OutputName)
	spec := tool.EncodeSpec{
		ConcatListPath:  listPath,
		ChapterMetaPath: chapterMetaPath,
		OutputPath:      outputPath,
		BitrateKbps:     bitrate,
		Channels:        channels,
		SampleRateHz:    sampleRate,
		HardwareEncoder: detectHardwareEncoder(),
	}
	if err := c.Encoder.Encode(ctx, spec); err != nil {
		return errs.WrapTransient("convert", 1, err, "encoder invocation failed")
	}

	pr, err := c.Prober.Probe(ctx, outputPath)
	if err != nil {
		return errs.WrapTransient("convert", 1, err, "encoded output failed to probe")
	}
	if pr.DurationSec <= 0 {
		return errs.Transientf("convert", 1, "encoded output has zero duration")
	}
	if pr.Codec != "aac" {
		return errs.Transientf("convert", 1, "encoded output codec is %q, expected aac", pr.Codec)
	}

	if _, err := c.Manifest.SetStage(c.BookHash, "convert", manifest.StageCompleted, map[string]any{
		"output_path":       outputPath,
		"output_duration_s": pr.DurationSec,
	}); err != nil {
		return errs.WrapTransient("convert", 1, err, "cannot write manifest")
	}
	return nil
}

// detectHardwareEncoder returns the host's hardware AAC encoder name, or
// "" to fall back to the software encoder. Only macOS's AudioToolbox
// encoder is detected; every other host uses software AAC.
func detectHardwareEncoder() string {
	if runtime.GOOS == "darwin" {
		return "aac_at"
	}
	return ""
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
