package stage

import (
	"context"
	"testing"

	"github.com/rodaddy/audiobook-pipeline/internal/manifest"
	"github.com/rodaddy/audiobook-pipeline/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataStage_SkipsEnrichmentWithoutDiscoveredASIN(t *testing.T) {
	probeScript := fakeProbeScript(t, "60")
	c, _ := newTestContext(t, probeScript)
	c.SourcePath = "/unused"

	_, err := c.Manifest.Create(c.BookHash, c.SourcePath, c.Mode)
	require.NoError(t, err)

	err = Metadata(context.Background(), c)
	require.NoError(t, err)

	m, err := c.Manifest.Read(c.BookHash)
	require.NoError(t, err)
	assert.Equal(t, manifest.StageCompleted, m.Stages["metadata"].Status)
	assert.Empty(t, m.Stages["metadata"].Extra["title"])
}

func TestNormalizeReleaseDate_ExpandsYearOnly(t *testing.T) {
	book := &metadata.Book{ReleaseDate: "2015"}
	normalizeReleaseDate(book)
	assert.Equal(t, "2015-01-01", book.ReleaseDate)
}

func TestNormalizeReleaseDate_LeavesFullDateAlone(t *testing.T) {
	book := &metadata.Book{ReleaseDate: "2015-06-30"}
	normalizeReleaseDate(book)
	assert.Equal(t, "2015-06-30", book.ReleaseDate)
}

func TestMonotonicNonOverlapping_DetectsOverlap(t *testing.T) {
	ok := monotonicNonOverlapping([]metadata.Chapter{
		{StartOffsetMs: 0, LengthMs: 1000},
		{StartOffsetMs: 500, LengthMs: 1000},
	})
	assert.False(t, ok)
}

func TestMonotonicNonOverlapping_AcceptsSequential(t *testing.T) {
	ok := monotonicNonOverlapping([]metadata.Chapter{
		{StartOffsetMs: 0, LengthMs: 1000},
		{StartOffsetMs: 1000, LengthMs: 2000},
	})
	assert.True(t, ok)
}

func TestFormatTimestamp_PadsToMillisecond(t *testing.T) {
	assert.Equal(t, "00:00:01.500", formatTimestamp(1500))
	assert.Equal(t, "01:02:03.004", formatTimestamp(3723004))
}

func TestFormatSeriesPosition_WholeVsFractional(t *testing.T) {
	assert.Equal(t, "03", formatSeriesPosition(3.0))
	assert.Equal(t, "03.5", formatSeriesPosition(3.5))
}

func TestFirstGenre_PrefersGenresOverGenrePath(t *testing.T) {
	book := &metadata.Book{
		Genres:    []metadata.Genre{{Name: "Fantasy"}},
		GenrePath: "Sci-Fi",
	}
	assert.Equal(t, "Fantasy", firstGenre(book))

	book2 := &metadata.Book{GenrePath: "Sci-Fi"}
	assert.Equal(t, "Sci-Fi", firstGenre(book2))
}

func TestStripHTML_RemovesTagsAndCollapsesWhitespace(t *testing.T) {
	got := stripHTML("<p>Hello   <b>World</b></p>\n\n")
	assert.Equal(t, "Hello World", got)
}
