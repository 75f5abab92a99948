package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
)

const (
	concatListName    = "concat.ffconcat"
	chapterMetaName   = "chapters.ffmetadata"
	defaultSampleRate = 44100
	minBitrateKbps    = 64
)

// Concat builds the ffconcat-format file list and, for multi-file inputs,
// the ffmetadata chapter file derived from file boundaries. It also
// selects the output bitrate/channel/sample-rate parameters and persists
// everything convert needs into the stage's manifest extra fields.
func Concat(ctx context.Context, c *Context) error {
	files, err := readFilesList(filepath.Join(c.WorkDir, FilesListName))
	if err != nil {
		return errs.WrapPermanent("concat", 2, err, "missing file list from validate stage")
	}

	var durationsMs []int64
	var titles []string
	var sourceBitrate int
	for i, f := range files {
		pr, err := c.Prober.Probe(ctx, f)
		if err != nil {
			return errs.WrapPermanent("concat", 2, err, fmt.Sprintf("cannot re-probe %s", f))
		}
		if i == 0 {
			sourceBitrate = pr.BitrateKbps
		}
		durationsMs = append(durationsMs, int64(pr.DurationSec*1000))
		titles = append(titles, chapterTitle(f))
	}

	listPath := filepath.Join(c.WorkDir, concatListName)
	if err := writeConcatList(listPath, files); err != nil {
		return errs.WrapPermanent("concat", 2, err, "cannot write concat list")
	}

	chapterMetaPath := ""
	if len(files) > 1 {
		chapterMetaPath = filepath.Join(c.WorkDir, chapterMetaName)
		if err := writeChapterMetadata(chapterMetaPath, titles, durationsMs); err != nil {
			return errs.WrapPermanent("concat", 2, err, "cannot write chapter metadata")
		}
	}

	bitrate := sourceBitrate
	if c.Cfg.Encode.MaxBitrateKbps > 0 && bitrate > c.Cfg.Encode.MaxBitrateKbps {
		bitrate = c.Cfg.Encode.MaxBitrateKbps
	}
	if bitrate < minBitrateKbps {
		bitrate = minBitrateKbps
	}
	channels := c.Cfg.Encode.Channels
	if channels != 1 && channels != 2 {
		channels = 1
	}

	extra := map[string]any{
		"concat_list_path":  listPath,
		"chapter_meta_path": chapterMetaPath,
		"bitrate_kbps":      bitrate,
		"channels":          channels,
		"sample_rate_hz":    defaultSampleRate,
		"chapter_titles":    titles,
		"chapter_durations_ms": durationsMs,
	}
	if _, err := c.Manifest.SetStage(c.BookHash, "concat", manifest.StageCompleted, extra); err != nil {
		return errs.WrapTransient("concat", 1, err, "cannot write manifest")
	}
	return nil
}

func chapterTitle(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

// writeConcatList emits the ffconcat demuxer format:
//
//	ffconcat version 1.0
//	file '/abs/path/one.mp3'
//	file '/abs/path/two.mp3'
func writeConcatList(path string, files []string) error {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, f := range files {
		b.WriteString("file ")
		b.WriteString(ffconcatQuote(f))
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func ffconcatQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// writeChapterMetadata emits an FFMETADATA1 document with one [CHAPTER]
// block per title, back to back from cumulative file-boundary offsets.
func writeChapterMetadata(path string, titles []string, durationsMs []int64) error {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	var offset int64
	for i, title := range titles {
		end := offset + durationsMs[i]
		b.WriteString("[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", offset)
		fmt.Fprintf(&b, "END=%d\n", end)
		fmt.Fprintf(&b, "title=%s\n", escapeMetadataValue(title))
		offset = end
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// escapeMetadataValue escapes the characters FFMETADATA1 treats specially
// in a value: '=', ';', '#', '\', and newline, each prefixed with '\'.
func escapeMetadataValue(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"=", `\=`,
		";", `\;`,
		"#", `\#`,
		"\n", "\\\n",
	)
	return r.Replace(s)
}
