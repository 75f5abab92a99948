// Package tool wraps the three external collaborators the pipeline
// specifies only as contracts: an audio prober, an encoder/muxer, and a
// metadata tagger. Each is invoked as a single external-tool call, never
// retried in-process, with stderr captured and its exit code mapped to a
// category by the caller.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rodaddy/audiobook-pipeline/internal/runner"
)

// ProbeResult is the normalized subset of probe output the pipeline needs:
// duration, bitrate, codec, channel count, and chapter count.
type ProbeResult struct {
	DurationSec float64
	BitrateKbps int
	Codec       string
	Channels    int
	FormatName  string
	Chapters    int
}

// probeOutput mirrors the JSON shape emitted by `ffprobe
// -print_format json -show_format -show_streams -show_chapters`, the de
// facto probe contract the pipeline contract assumes without naming a binary.
type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Channels  int    `json:"channels"`
	} `json:"streams"`
	Chapters []json.RawMessage `json:"chapters"`
}

// Prober runs the external probe tool and normalizes its output.
type Prober struct {
	BinPath string // default "ffprobe"
	Run     *runner.Runner
}

// NewProber returns a Prober using binPath (or "ffprobe" if empty). Probes
// always run for real, even under --dry-run, since downstream decisions
// (bitrate selection, chapter synthesis) depend on real file data.
func NewProber(binPath string, r *runner.Runner) *Prober {
	if binPath == "" {
		binPath = "ffprobe"
	}
	return &Prober{BinPath: binPath, Run: r}
}

// Probe inspects path and returns its duration/bitrate/codec/channels. Any
// parse or tool failure is surfaced untranslated; the validate stage
// categorizes an unreadable file as a permanent failure 
func (p *Prober) Probe(ctx context.Context, path string) (ProbeResult, error) {
	res, err := p.Run.RunRead(ctx, p.BinPath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams", "-show_chapters",
		path,
	)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe %s: %w", path, err)
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return ProbeResult{}, fmt.Errorf("probe %s: parse output: %w", path, err)
	}

	duration, _ := strconv.ParseFloat(out.Format.Duration, 64)
	bitrateBps, _ := strconv.Atoi(out.Format.BitRate)

	pr := ProbeResult{
		DurationSec: duration,
		BitrateKbps: bitrateBps / 1000,
		FormatName:  out.Format.FormatName,
		Chapters:    len(out.Chapters),
	}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			pr.Codec = s.CodecName
			pr.Channels = s.Channels
			break
		}
	}
	if pr.DurationSec <= 0 {
		return pr, fmt.Errorf("probe %s: zero or unreadable duration", path)
	}
	return pr, nil
}
