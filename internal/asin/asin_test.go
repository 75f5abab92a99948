package asin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	valid       map[string]bool // asin -> accept
	unreachable map[string]bool // asin -> simulate unreachable instead of reject
}

func (v *fakeValidator) Validate(ctx context.Context, candidate string) (bool, error) {
	if v.unreachable[candidate] {
		return false, ErrUnreachable
	}
	return v.valid[candidate], nil
}

func TestDiscover_CLIOverrideShortCircuits(t *testing.T) {
	dir := t.TempDir()
	v := &fakeValidator{valid: map[string]bool{"B012345678": true}}
	chain := NewChain(v, nil, nil)

	res, ok := chain.Discover(context.Background(), dir, "b012345678")
	require.True(t, ok)
	assert.Equal(t, "B012345678", res.ASIN)
	assert.Equal(t, SourceCLI, res.Source)
	assert.False(t, res.Unvalidated)
}

func TestDiscover_FallsThroughToMarkerFileWhenCLIRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".asin"), []byte(" b022222222 \n"), 0o644))

	v := &fakeValidator{valid: map[string]bool{"B022222222": true}}
	chain := NewChain(v, nil, nil)

	res, ok := chain.Discover(context.Background(), dir, "B099999999")
	require.True(t, ok)
	assert.Equal(t, "B022222222", res.ASIN)
	assert.Equal(t, SourceMarker, res.Source)
}

func TestDiscover_FolderNameBracketPattern(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Some Book [B033333333]")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	v := &fakeValidator{valid: map[string]bool{"B033333333": true}}
	chain := NewChain(v, nil, nil)

	res, ok := chain.Discover(context.Background(), dir, "")
	require.True(t, ok)
	assert.Equal(t, "B033333333", res.ASIN)
	assert.Equal(t, SourceFolderName, res.Source)
}

func TestDiscover_FolderNameRequiresB0Prefix(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Some Book [C033333333]")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	v := &fakeValidator{valid: map[string]bool{}}
	chain := NewChain(v, nil, nil)

	_, ok := chain.Discover(context.Background(), dir, "")
	assert.False(t, ok)
}

type fakeLibraryAPI struct {
	asin  string
	found bool
}

func (f fakeLibraryAPI) Lookup(ctx context.Context, sourcePath string) (string, bool, error) {
	return f.asin, f.found, nil
}

func TestDiscover_LibraryAPIStep(t *testing.T) {
	dir := t.TempDir()
	v := &fakeValidator{valid: map[string]bool{"B044444444": true}}
	chain := NewChain(v, fakeLibraryAPI{asin: "B044444444", found: true}, nil)

	res, ok := chain.Discover(context.Background(), dir, "")
	require.True(t, ok)
	assert.Equal(t, SourceLibraryAPI, res.Source)
}

func TestStubLibraryAPI_AlwaysNotFound(t *testing.T) {
	_, found, err := StubLibraryAPI{}.Lookup(context.Background(), "/anything")
	require.NoError(t, err)
	assert.False(t, found)
}

type fakeSearcher struct {
	candidates []SearchCandidate
}

func (f fakeSearcher) Search(ctx context.Context, query string) ([]SearchCandidate, error) {
	return f.candidates, nil
}

func TestDiscover_CatalogSearchAcceptsTopMatchAboveThreshold(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "The Fellowship Of The Ring")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	searcher := fakeSearcher{candidates: []SearchCandidate{
		{ASIN: "b055555555", Title: "The Fellowship Of The Ring", Author: ""},
		{ASIN: "B066666666", Title: "Completely Unrelated Title", Author: ""},
	}}
	v := &fakeValidator{valid: map[string]bool{"B055555555": true}}
	chain := NewChain(v, nil, searcher)

	res, ok := chain.Discover(context.Background(), dir, "")
	require.True(t, ok)
	assert.Equal(t, "B055555555", res.ASIN)
	assert.Equal(t, SourceSearch, res.Source)
}

func TestDiscover_CatalogSearchRejectsBelowThreshold(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Some Book")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	searcher := fakeSearcher{candidates: []SearchCandidate{
		{ASIN: "B077777777", Title: "Entirely Different", Author: "Nobody"},
	}}
	v := &fakeValidator{valid: map[string]bool{"B077777777": true}}
	chain := NewChain(v, nil, searcher)

	_, ok := chain.Discover(context.Background(), dir, "")
	assert.False(t, ok)
}

func TestDiscover_UnvalidatedFallbackWhenAggregatorUnreachable(t *testing.T) {
	dir := t.TempDir()
	v := &fakeValidator{unreachable: map[string]bool{"B088888888": true}}
	chain := NewChain(v, nil, nil)

	res, ok := chain.Discover(context.Background(), dir, "B088888888")
	require.True(t, ok)
	assert.Equal(t, "B088888888", res.ASIN)
	assert.True(t, res.Unvalidated)
}

func TestDiscover_GracefulFailureWhenNothingQualifies(t *testing.T) {
	dir := t.TempDir()
	v := &fakeValidator{valid: map[string]bool{}}
	chain := NewChain(v, nil, nil)

	_, ok := chain.Discover(context.Background(), dir, "")
	assert.False(t, ok)
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, IsValidFormat("B0CXYZ1234"))
	assert.False(t, IsValidFormat("short"))
	assert.False(t, IsValidFormat("b0cxyz1234"))
}

func TestSearchQuery_StripsHashSuffixAndSeriesNumbering(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Author Name", "03 - Book Title [a1b2c3d4]")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	title, author := searchQuery(dir)
	assert.Equal(t, "Book Title", title)
	assert.Equal(t, "Author Name", author)
}

func TestSearchQuery_WalksToGrandparentWhenParentEqualsLeaf(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "Grandparent", "Same Name", "Same Name")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, author := searchQuery(dir)
	assert.Equal(t, "Grandparent", author)
}
