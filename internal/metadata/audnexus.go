package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// audnexBook mirrors the Audnexus book response shape.
type audnexBook struct {
	ASIN             string      `json:"asin"`
	Title            string      `json:"title"`
	Subtitle         string      `json:"subtitle,omitempty"`
	Authors          interface{} `json:"authors,omitempty"`
	Narrators        interface{} `json:"narrators,omitempty"`
	PublisherName    string      `json:"publisherName,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	ReleaseDate      string      `json:"releaseDate,omitempty"`
	Image            string      `json:"image,omitempty"`
	ISBN             string      `json:"isbn,omitempty"`
	Language         string      `json:"language,omitempty"`
	RuntimeLengthMin int         `json:"runtimeLengthMin,omitempty"`
	Genres           []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"genres,omitempty"`
	SeriesPrimary *struct {
		Name     string `json:"name"`
		Position string `json:"position"`
	} `json:"seriesPrimary,omitempty"`
}

// authorNames extracts name strings regardless of whether the field
// arrived as an array of objects, an array of strings, a single object,
// or a single string — the Audnexus API is inconsistent about this across
// endpoints and API versions.
func authorNames(v interface{}) []string {
	var names []string
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			switch a := item.(type) {
			case string:
				names = append(names, a)
			case map[string]interface{}:
				if name, ok := a["name"].(string); ok {
					names = append(names, name)
				}
			}
		}
	case map[string]interface{}:
		if name, ok := t["name"].(string); ok {
			names = append(names, name)
		}
	case string:
		names = append(names, t)
	}
	return names
}

type audnexChapters struct {
	ASIN                 string `json:"asin"`
	BrandIntroDurationMs int64  `json:"brandIntroDurationMs"`
	BrandOutroDurationMs int64  `json:"brandOutroDurationMs"`
	IsAccurate           bool   `json:"isAccurate"`
	RuntimeLengthMs      int64  `json:"runtimeLengthMs"`
	Chapters             []struct {
		LengthMs      int64  `json:"lengthMs"`
		StartOffsetMs int64  `json:"startOffsetMs"`
		Title         string `json:"title"`
	} `json:"chapters"`
}

// AudnexusClient is the fallback aggregator client: two region-
// parameterized endpoints, book metadata and chapters.
type AudnexusClient struct {
	HTTPClient *http.Client
	BaseURL    string // e.g. "https://api.audnex.us"
	Region     string
	limiter    *rate.Limiter
}

// NewAudnexusClient returns a fallback aggregator client with a bounded
// timeout, matching the primary client's single-shot contract.
func NewAudnexusClient(region string, timeout time.Duration) *AudnexusClient {
	return &AudnexusClient{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    "https://api.audnex.us",
		Region:     region,
		limiter:    rate.NewLimiter(requestsPerSecond, 1),
	}
}

// FetchBook performs one GET to the book endpoint. It never retries
// in-process — retries are the orchestrator's job — so a 5xx becomes
// ErrTransient on the first response rather than after a backoff loop.
func (c *AudnexusClient) FetchBook(ctx context.Context, asin string) (*Book, error) {
	url := fmt.Sprintf("%s/books/%s", c.BaseURL, asin)
	if c.Region != "" {
		url += "?region=" + c.Region
	}

	raw, err := c.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	var book audnexBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("audnexus: decode book: %w", err)
	}
	return normalizeAudnexBook(&book), nil
}

// FetchChapters performs one GET to the chapters endpoint and merges the
// result into book (book may be nil if only chapter data is wanted).
func (c *AudnexusClient) FetchChapters(ctx context.Context, asin string, book *Book) (*Book, error) {
	url := fmt.Sprintf("%s/books/%s/chapters", c.BaseURL, asin)
	if c.Region != "" {
		url += "?region=" + c.Region
	}

	raw, err := c.getJSON(ctx, url)
	if err != nil {
		return book, err
	}
	var chs audnexChapters
	if err := json.Unmarshal(raw, &chs); err != nil {
		return book, fmt.Errorf("audnexus: decode chapters: %w", err)
	}

	if book == nil {
		book = &Book{ASIN: asin, Source: SourceFallback}
	}
	normalized := Chapters{
		IsAccurate:           chs.IsAccurate,
		RuntimeLengthMs:      chs.RuntimeLengthMs,
		BrandIntroDurationMs: chs.BrandIntroDurationMs,
		BrandOutroDurationMs: chs.BrandOutroDurationMs,
	}
	for _, ch := range chs.Chapters {
		normalized.Chapters = append(normalized.Chapters, Chapter{
			LengthMs:      ch.LengthMs,
			StartOffsetMs: ch.StartOffsetMs,
			Title:         ch.Title,
		})
	}
	book.Chapters = &normalized
	return book, nil
}

func (c *AudnexusClient) getJSON(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: audnexus: rate limiter: %v", ErrTransient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("audnexus: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: audnexus: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: audnexus: status %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: audnexus: status %d", ErrNotFound, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: audnexus: status %d", ErrTransient, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("audnexus: read response: %w", err)
	}
	return data, nil
}

func normalizeAudnexBook(b *audnexBook) *Book {
	out := &Book{
		ASIN:        b.ASIN,
		Title:       b.Title,
		Subtitle:    b.Subtitle,
		Publisher:   b.PublisherName,
		Summary:     b.Summary,
		ReleaseDate: b.ReleaseDate,
		Image:       b.Image,
		ISBN:        b.ISBN,
		Language:    b.Language,
		RuntimeMin:  b.RuntimeLengthMin,
		Source:      SourceFallback,
	}
	for _, name := range authorNames(b.Authors) {
		out.Authors = append(out.Authors, Author{Name: name})
	}
	for _, name := range authorNames(b.Narrators) {
		out.Narrators = append(out.Narrators, Author{Name: name})
	}
	for _, g := range b.Genres {
		out.Genres = append(out.Genres, Genre{Name: g.Name})
	}
	// The fallback's numeric genre-ladder ID is not human-readable, so
	// GenrePath is left unset here — callers should prefer the primary
	// client's GenrePath when one is available.
	if b.SeriesPrimary != nil {
		out.SeriesPrimary = &SeriesPrimary{
			Name:     b.SeriesPrimary.Name,
			Position: parseSeriesPosition(b.SeriesPrimary.Position),
		}
	}
	return out
}
