package stage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rodaddy/audiobook-pipeline/internal/errs"
	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/metadata"
	"github.com/rodaddy/audiobook-pipeline/internal/tool"
)

// jpegMagic is the three-byte signature every valid JPEG stream starts
// with; covers used for cover art are rejected if they don't match.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// yearOnlyRe matches a bare 4-digit release year with nothing else.
var yearOnlyRe = regexp.MustCompile(`^\d{4}$`)

// Metadata fetches book metadata for the discovered ASIN, tags the
// work-directory M4B, and writes the desc.txt/reader.txt companions.
// Every failure past the initial ASIN lookup is graceful: the stage logs
// a warning and still completes, so organize can proceed with whatever
// it has.
func Metadata(ctx context.Context, c *Context) error {
	m, err := c.Manifest.Read(c.BookHash)
	if err != nil || m == nil {
		return errs.WrapPermanent("metadata", 2, err, "cannot read manifest")
	}

	asin, _ := m.BookMeta["asin"].(string)
	if asin == "" {
		c.Log.WithStage("metadata", c.BookHash).Info().Msg("no asin discovered, skipping metadata enrichment")
		return completeMetadata(c, nil)
	}

	book := fetchBookMetadata(ctx, c, asin)
	if book == nil {
		c.Log.WithStage("metadata", c.BookHash).Warn().Msg("metadata fetch failed from both clients, proceeding without enrichment")
		return completeMetadata(c, nil)
	}
	normalizeReleaseDate(book)

	outputPath := filepath.Join(c.WorkDir, OutputName)
	pr, err := c.Prober.Probe(ctx, outputPath)
	probedDurationMs := int64(0)
	if err == nil {
		probedDurationMs = int64(pr.DurationSec * 1000)
	}

	var chapterLines []string
	if book.Chapters != nil && book.Chapters.RuntimeLengthMs > 0 && probedDurationMs > 0 {
		tolerance := c.Cfg.Catalog.ChapterDurationTolerance
		if tolerance <= 0 {
			tolerance = 0.05
		}
		diff := absFloat(float64(probedDurationMs-book.Chapters.RuntimeLengthMs)) / float64(book.Chapters.RuntimeLengthMs)
		if diff <= tolerance && monotonicNonOverlapping(book.Chapters.Chapters) {
			chapterLines = catalogChapterLines(book.Chapters.Chapters)
		} else {
			c.Log.WithStage("metadata", c.BookHash).Warn().Msg("catalog chapter runtime outside tolerance or invalid, keeping file-boundary chapters")
		}
	}

	coverPath := downloadCover(ctx, c, book.Image)

	tagSpec := tool.TagSpec{
		InputPath:    outputPath,
		Title:        book.Title,
		Subtitle:     book.Subtitle,
		Author:       book.FirstAuthorName(),
		Narrator:     book.FirstNarratorName(),
		Genre:        firstGenre(book),
		Description:  book.Description,
		ReleaseDate:  book.ReleaseDate,
		Publisher:    book.Publisher,
		ISBN:         book.ISBN,
		CoverPath:    coverPath,
		ChapterLines: chapterLines,
	}
	if book.SeriesPrimary != nil {
		tagSpec.SeriesName = book.SeriesPrimary.Name
		tagSpec.SeriesPos = formatSeriesPosition(book.SeriesPrimary.Position)
	}
	if err := c.Tagger.Tag(ctx, tagSpec); err != nil {
		c.Log.WithStage("metadata", c.BookHash).Warn().Err(err).Msg("tagger invocation failed, proceeding without tags")
	}

	writeCompanionFiles(c.WorkDir, book)

	return completeMetadata(c, book)
}

// fetchBookMetadata tries the configured leading client first (primary or
// fallback, per METADATA_SOURCE), then the other, caching each successful
// result. Returns nil if both fail.
func fetchBookMetadata(ctx context.Context, c *Context, asin string) *metadata.Book {
	primaryFirst := c.Cfg.Catalog.MetadataSource != "fallback"

	fetchPrimary := func() *metadata.Book {
		b, err := c.Cache.GetOrFetchBook(ctx, metadata.SourcePrimary, asin, false, func(ctx context.Context) (*metadata.Book, error) {
			return c.Audible.FetchBook(ctx, asin)
		})
		if err != nil {
			return nil
		}
		return b
	}
	fetchFallback := func() *metadata.Book {
		b, err := c.Cache.GetOrFetchBook(ctx, metadata.SourceFallback, asin, false, func(ctx context.Context) (*metadata.Book, error) {
			return c.Audnexus.FetchBook(ctx, asin)
		})
		if err != nil {
			return nil
		}
		b, err = c.Audnexus.FetchChapters(ctx, asin, b)
		if err != nil {
			return b
		}
		return b
	}

	if primaryFirst {
		if b := fetchPrimary(); b != nil {
			return b
		}
		return fetchFallback()
	}
	if b := fetchFallback(); b != nil {
		return b
	}
	return fetchPrimary()
}

func completeMetadata(c *Context, book *metadata.Book) error {
	extra := map[string]any{}
	if book != nil {
		extra["source"] = string(book.Source)
		extra["title"] = book.Title
	}
	if _, err := c.Manifest.SetStage(c.BookHash, "metadata", manifest.StageCompleted, extra); err != nil {
		return errs.WrapTransient("metadata", 1, err, "cannot write manifest")
	}
	if book == nil {
		return nil
	}
	return c.storeBookMeta(book)
}

// storeBookMeta persists the fetched book's fields onto the manifest's
// BookMeta so the organize stage's Plex-path resolution can read them
// without refetching.
func (c *Context) storeBookMeta(book *metadata.Book) error {
	_, err := c.Manifest.Update(c.BookHash, func(m *manifest.Manifest) {
		if m.BookMeta == nil {
			m.BookMeta = map[string]any{}
		}
		m.BookMeta["title"] = book.Title
		m.BookMeta["author"] = book.FirstAuthorName()
		m.BookMeta["release_date"] = book.ReleaseDate
		if book.SeriesPrimary != nil {
			m.BookMeta["series_name"] = book.SeriesPrimary.Name
			m.BookMeta["series_position"] = book.SeriesPrimary.Position
		}
	})
	return err
}

func normalizeReleaseDate(book *metadata.Book) {
	if yearOnlyRe.MatchString(book.ReleaseDate) {
		book.ReleaseDate = book.ReleaseDate + "-01-01"
	}
}

func monotonicNonOverlapping(chapters []metadata.Chapter) bool {
	prevEnd := int64(-1)
	for _, ch := range chapters {
		if ch.StartOffsetMs < 0 || ch.LengthMs < 0 {
			return false
		}
		if ch.StartOffsetMs < prevEnd {
			return false
		}
		prevEnd = ch.StartOffsetMs + ch.LengthMs
	}
	return true
}

func catalogChapterLines(chapters []metadata.Chapter) []string {
	lines := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		lines = append(lines, fmt.Sprintf("%s %s", formatTimestamp(ch.StartOffsetMs), ch.Title))
	}
	return lines
}

func formatTimestamp(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	milli := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, milli)
}

func firstGenre(book *metadata.Book) string {
	if len(book.Genres) > 0 {
		return book.Genres[0].Name
	}
	return book.GenrePath
}

func formatSeriesPosition(pos float64) string {
	whole := int(pos)
	frac := pos - float64(whole)
	if frac == 0 {
		return fmt.Sprintf("%02d", whole)
	}
	return fmt.Sprintf("%04.1f", pos)
}

func downloadCover(ctx context.Context, c *Context, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	client := &http.Client{Timeout: c.Cfg.Catalog.CoverTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) < 3 || string(data[:3]) != string(jpegMagic) {
		return ""
	}
	coverPath := filepath.Join(c.WorkDir, "cover.jpg")
	if err := os.WriteFile(coverPath, data, 0o644); err != nil {
		return ""
	}
	return coverPath
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes tags and collapses whitespace, a plain-text rendition
// suitable for desc.txt.
func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = regexp.MustCompile(`\s+`).ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func writeCompanionFiles(workDir string, book *metadata.Book) {
	desc := book.Description
	if desc == "" {
		desc = book.Summary
	}
	if desc != "" {
		_ = os.WriteFile(filepath.Join(workDir, "desc.txt"), []byte(stripHTML(desc)), 0o644)
	}
	if narrator := book.FirstNarratorName(); narrator != "" {
		_ = os.WriteFile(filepath.Join(workDir, "reader.txt"), []byte(narrator), 0o644)
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
