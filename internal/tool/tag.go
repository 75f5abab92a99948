package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/rodaddy/audiobook-pipeline/internal/runner"
)

// TagSpec assembles every field the tagger accepts in one pass: metadata
// fields, cover art, and chapter timestamps.
type TagSpec struct {
	InputPath    string // work-directory M4B copy; never an NFS path
	Title        string
	Subtitle     string
	Author       string
	Narrator     string
	SeriesName   string
	SeriesPos    string
	Genre        string
	Description  string
	ReleaseDate  string // ISO YYYY-MM-DD
	Publisher    string
	ISBN         string
	CoverPath    string // "" if no cover downloaded
	ChapterLines []string // "HH:MM:SS.mmm Title" lines, already gated
}

// Tagger drives the external metadata-writer tool.
type Tagger struct {
	BinPath string // default "audiobook-tag" wrapper script (see NewTagger)
	Run     *runner.Runner
}

// NewTagger returns a Tagger using binPath (or "audiobook-tag" if empty),
// the name of the wrapper script collaborator the pipeline contract assumes.
func NewTagger(binPath string, r *runner.Runner) *Tagger {
	if binPath == "" {
		binPath = "audiobook-tag"
	}
	return &Tagger{BinPath: binPath, Run: r}
}

// Tag invokes the tagger once against spec.InputPath with every available
// field. A failure here is non-fatal to the pipeline — the
// metadata stage logs a warning and completes with partial data — so Tag
// returns a plain error for the caller to decide severity, never panics.
func (t *Tagger) Tag(ctx context.Context, spec TagSpec) error {
	args := []string{"--input", spec.InputPath}
	addFlag := func(flag, value string) {
		if value != "" {
			args = append(args, flag, value)
		}
	}
	addFlag("--title", spec.Title)
	addFlag("--subtitle", spec.Subtitle)
	addFlag("--author", spec.Author)
	addFlag("--narrator", spec.Narrator)
	addFlag("--series", spec.SeriesName)
	addFlag("--series-position", spec.SeriesPos)
	addFlag("--genre", spec.Genre)
	addFlag("--description", spec.Description)
	addFlag("--release-date", spec.ReleaseDate)
	addFlag("--publisher", spec.Publisher)
	addFlag("--isbn", spec.ISBN)
	addFlag("--cover", spec.CoverPath)

	if len(spec.ChapterLines) == 0 {
		if _, err := t.Run.Run(ctx, t.BinPath, args...); err != nil {
			return fmt.Errorf("tag %s: %w", spec.InputPath, err)
		}
		return nil
	}

	args = append(args, "--chapters-stdin")
	stdin := strings.Join(spec.ChapterLines, "\n") + "\n"
	if _, err := t.Run.RunWithStdin(ctx, stdin, t.BinPath, args...); err != nil {
		return fmt.Errorf("tag %s: %w", spec.InputPath, err)
	}
	return nil
}
