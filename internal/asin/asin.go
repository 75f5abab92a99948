// Package asin implements the ASIN discovery priority chain the pipeline contract
// describes: CLI override, marker file, folder-name regex, external
// library API (stubbed), and catalog title/author fuzzy search, each
// short-circuiting on the first validated hit.
package asin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xrash/smetrics"
)

// formatRe validates the 10-character uppercase-alphanumeric shape every
// Amazon/Audible ASIN takes.
var formatRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// IsValidFormat reports whether candidate is a format-valid ASIN.
func IsValidFormat(candidate string) bool {
	return formatRe.MatchString(candidate)
}

// Source identifies which chain step produced a candidate, recorded as
// `asin_source` in the manifest's metadata field.
type Source string

const (
	SourceCLI        Source = "cli_override"
	SourceMarker     Source = "marker_file"
	SourceFolderName Source = "folder_name"
	SourceLibraryAPI Source = "library_api"
	SourceSearch     Source = "catalog_search"
)

// Result is a discovered ASIN plus its provenance and validation state.
type Result struct {
	ASIN        string
	Source      Source
	Unvalidated bool // true if accepted without aggregator confirmation
}

// Validator checks a candidate ASIN against the fallback aggregator's book
// endpoint: 200 accepts, 404/422 rejects and moves to the next candidate,
// anything else marks the aggregator unreachable and continues the chain.
type Validator interface {
	// Validate returns (true, nil) on confirmed 200, (false, nil) on a
	// definitive 404/422 rejection, and (false, ErrUnreachable) when the
	// aggregator could not be reached to decide either way.
	Validate(ctx context.Context, candidateASIN string) (bool, error)
}

// ErrUnreachable signals the aggregator could not be reached for a
// validation attempt — the chain keeps going but remembers this happened.
var ErrUnreachable = fmt.Errorf("asin: validation aggregator unreachable")

// Searcher performs the catalog title/author fuzzy search step.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchCandidate, error)
}

// SearchCandidate is one catalog search hit with enough fields to score.
type SearchCandidate struct {
	ASIN   string
	Title  string
	Author string
}

// LibraryAPI is the external-library-API discovery step: if configured,
// it's consulted before catalog search; currently stubbed to always
// return not-found.
type LibraryAPI interface {
	Lookup(ctx context.Context, sourcePath string) (string, bool, error)
}

// StubLibraryAPI always returns not-found; no external library-catalog
// integration is wired up yet.
type StubLibraryAPI struct{}

func (StubLibraryAPI) Lookup(ctx context.Context, sourcePath string) (string, bool, error) {
	return "", false, nil
}

// SearchMatchThreshold is the minimum fuzzy-match score (0-1, Jaro-Winkler)
// a search candidate must clear to be accepted. It is a package constant;
// no configuration setting changes it.
const SearchMatchThreshold = 0.82

// folderNamePatterns are tried in order as the third discovery step.
var folderNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[([A-Z0-9]{10})\]`),
	regexp.MustCompile(`\(([A-Z0-9]{10})\)`),
	regexp.MustCompile(`^([A-Z0-9]{10})\s*-`),
}

// Chain runs the full priority chain and returns the first validated (or
// unvalidated-but-accepted) candidate, or (nil, false) on graceful
// discovery failure.
type Chain struct {
	Validator  Validator
	LibraryAPI LibraryAPI
	Searcher   Searcher
}

// NewChain returns a Chain; libraryAPI defaults to StubLibraryAPI if nil.
func NewChain(validator Validator, libraryAPI LibraryAPI, searcher Searcher) *Chain {
	if libraryAPI == nil {
		libraryAPI = StubLibraryAPI{}
	}
	return &Chain{Validator: validator, LibraryAPI: libraryAPI, Searcher: searcher}
}

// Discover runs the chain against sourcePath (a book's source directory or
// the parent of a single M4B file). cliOverride is the --asin flag value,
// "" if not provided.
func (c *Chain) Discover(ctx context.Context, sourcePath, cliOverride string) (*Result, bool) {
	aggregatorUnreachable := false
	formatValidFallback := ""
	formatValidFallbackSource := Source("")

	tryValidate := func(candidate string, source Source) (*Result, bool) {
		if !IsValidFormat(candidate) {
			return nil, false
		}
		ok, err := c.Validator.Validate(ctx, candidate)
		if err != nil {
			aggregatorUnreachable = true
			if formatValidFallback == "" {
				formatValidFallback = candidate
				formatValidFallbackSource = source
			}
			return nil, false
		}
		if ok {
			return &Result{ASIN: candidate, Source: source}, true
		}
		return nil, false
	}

	// 1. CLI override.
	if cliOverride != "" {
		candidate := strings.ToUpper(strings.TrimSpace(cliOverride))
		if res, ok := tryValidate(candidate, SourceCLI); ok {
			return res, true
		}
		// "Accept format-valid override if the aggregator is unreachable"
		// is handled by the formatValidFallback bookkeeping above.
	}

	// 2. Marker file.
	if marker := readMarkerFile(sourcePath); marker != "" {
		if res, ok := tryValidate(marker, SourceMarker); ok {
			return res, true
		}
	}

	// 3. Folder-name regex.
	if folder := folderNameCandidate(sourcePath); folder != "" {
		if res, ok := tryValidate(folder, SourceFolderName); ok {
			return res, true
		}
	}

	// 4. External library API (stubbed).
	if candidate, found, err := c.LibraryAPI.Lookup(ctx, sourcePath); err == nil && found {
		if res, ok := tryValidate(candidate, SourceLibraryAPI); ok {
			return res, true
		}
	}

	// 5. Catalog title/author search.
	if c.Searcher != nil {
		if res, ok := c.trySearch(ctx, sourcePath, tryValidate); ok {
			return res, true
		}
	}

	if formatValidFallback != "" && aggregatorUnreachable {
		return &Result{ASIN: formatValidFallback, Source: formatValidFallbackSource, Unvalidated: true}, true
	}
	return nil, false
}

func (c *Chain) trySearch(ctx context.Context, sourcePath string, tryValidate func(string, Source) (*Result, bool)) (*Result, bool) {
	title, author := searchQuery(sourcePath)
	if title == "" {
		return nil, false
	}
	candidates, err := c.Searcher.Search(ctx, strings.TrimSpace(title+" "+author))
	if err != nil || len(candidates) == 0 {
		return nil, false
	}

	best := candidates[0]
	bestScore := scoreCandidate(best, title, author)
	for _, cand := range candidates[1:] {
		if s := scoreCandidate(cand, title, author); s > bestScore {
			best, bestScore = cand, s
		}
	}
	if bestScore < SearchMatchThreshold {
		return nil, false
	}
	return tryValidate(strings.ToUpper(best.ASIN), SourceSearch)
}

func scoreCandidate(cand SearchCandidate, title, author string) float64 {
	titleScore := smetrics.JaroWinkler(strings.ToLower(cand.Title), strings.ToLower(title), 0.7, 4)
	authorScore := smetrics.JaroWinkler(strings.ToLower(cand.Author), strings.ToLower(author), 0.7, 4)
	if author == "" || cand.Author == "" {
		return titleScore
	}
	return (titleScore + authorScore) / 2
}

func readMarkerFile(sourcePath string) string {
	dir := sourcePath
	if info, err := os.Stat(sourcePath); err == nil && !info.IsDir() {
		dir = filepath.Dir(sourcePath)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".asin"))
	if err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(string(data)))
}

func folderNameCandidate(sourcePath string) string {
	name := filepath.Base(filepath.Clean(sourcePath))
	for _, re := range folderNamePatterns {
		if m := re.FindStringSubmatch(name); len(m) == 2 {
			candidate := strings.ToUpper(m[1])
			if strings.HasPrefix(candidate, "B0") {
				return candidate
			}
		}
	}
	return ""
}

// seriesNumberingRe strips tokens like "01 - " or "#3" from a directory
// leaf before it's used as a search query term.
var seriesNumberingRe = regexp.MustCompile(`^(?:\d+\s*[-.]\s*|#\d+\s*)`)

// hashSuffixRe strips a trailing idempotency-hash-looking suffix, e.g.
// "Book Title [a1b2c3d4e5f6a7b8]".
var hashSuffixRe = regexp.MustCompile(`\s*[\[(][0-9a-fA-F]{8,}[\])]\s*$`)

// searchQuery builds (title, author) query terms from the leaf and parent
// directory names, with hash suffixes and series-numbering tokens
// stripped; if parent equals leaf, it walks up to the grandparent.
func searchQuery(sourcePath string) (title, author string) {
	clean := filepath.Clean(sourcePath)
	leaf := filepath.Base(clean)
	parentDir := filepath.Dir(clean)
	parent := filepath.Base(parentDir)

	if parent == leaf {
		parent = filepath.Base(filepath.Dir(parentDir))
	}

	title = cleanQueryToken(leaf)
	author = cleanQueryToken(parent)
	return title, author
}

func cleanQueryToken(s string) string {
	s = hashSuffixRe.ReplaceAllString(s, "")
	s = seriesNumberingRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.TrimSpace(s)
}
