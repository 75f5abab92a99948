package tool

import (
	"context"
	"fmt"

	"github.com/rodaddy/audiobook-pipeline/internal/runner"
)

// EncodeSpec describes the single encoder invocation the pipeline contract requires:
// concat-demux the file list, AAC-encode at one bitrate, map in chapter
// metadata, and faststart the result.
type EncodeSpec struct {
	ConcatListPath    string // ffconcat-format file list
	ChapterMetaPath   string // ffmetadata-format chapter file, "" if none
	OutputPath        string
	BitrateKbps       int
	Channels          int
	SampleRateHz      int // fixed at 44100
	HardwareEncoder   string // e.g. "aac_at" / "" for software
}

// Encoder drives the external encoder/muxer tool.
type Encoder struct {
	BinPath string // default "ffmpeg"
	Run     *runner.Runner
}

// NewEncoder returns an Encoder using binPath (or "ffmpeg" if empty).
func NewEncoder(binPath string, r *runner.Runner) *Encoder {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &Encoder{BinPath: binPath, Run: r}
}

// Encode performs the single-pass concat+encode+chapters+faststart
// invocation the pipeline contract describes. It never retries; a non-zero exit
// becomes the caller's responsibility to categorize // "re-encoding may succeed after disk/memory pressure clears").
func (e *Encoder) Encode(ctx context.Context, spec EncodeSpec) error {
	codec := "aac"
	if spec.HardwareEncoder != "" {
		codec = spec.HardwareEncoder
	}
	sampleRate := spec.SampleRateHz
	if sampleRate == 0 {
		sampleRate = 44100
	}

	args := []string{
		"-y", "-v", "error",
		"-f", "concat", "-safe", "0", "-i", spec.ConcatListPath,
	}
	if spec.ChapterMetaPath != "" {
		args = append(args, "-i", spec.ChapterMetaPath, "-map_metadata", "1")
	}
	args = append(args,
		"-map", "0:a",
		"-c:a", codec,
		"-b:a", fmt.Sprintf("%dk", spec.BitrateKbps),
		"-ac", fmt.Sprintf("%d", spec.Channels),
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-movflags", "+faststart",
		spec.OutputPath,
	)

	if _, err := e.Run.Run(ctx, e.BinPath, args...); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
