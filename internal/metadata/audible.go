package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// requestsPerSecond caps how fast either catalog client issues GETs, so a
// run processing a backlog of books doesn't hammer the upstream catalog.
const requestsPerSecond = 2

// audibleResponse mirrors the Audible catalog product response, carrying
// the fields the primary client offers that the fallback aggregator
// doesn't (subtitle, copyright, publisher, isbn, rating, high-res cover).
type audibleResponse struct {
	Product struct {
		ASIN     string `json:"asin"`
		Title    string `json:"title"`
		Subtitle string `json:"subtitle"`
		Authors  []struct {
			Name string `json:"name"`
			ASIN string `json:"asin"`
		} `json:"authors"`
		Narrators []struct {
			Name string `json:"name"`
		} `json:"narrators"`
		Series []struct {
			Title    string `json:"title"`
			Sequence string `json:"sequence"`
		} `json:"series"`
		Publisher struct {
			Name string `json:"name"`
		} `json:"publisher"`
		Copyright   string `json:"copyright"`
		ISBN        string `json:"isbn"`
		ReleaseDate string `json:"release_date"`
		Language    struct {
			Name string `json:"name"`
		} `json:"language"`
		Rating struct {
			OverallDistribution struct {
				AverageRating float64 `json:"average_rating"`
			} `json:"overall_distribution"`
		} `json:"rating"`
		Runtime struct {
			LengthMinutes int `json:"length_minutes"`
		} `json:"runtime"`
		Categories []struct {
			Name string `json:"name"`
		} `json:"category_ladders"`
		ProductImages struct {
			X2400 string `json:"2400"`
			X500  string `json:"500"`
		} `json:"product_images"`
		MerchandisingSummary string `json:"merchandising_summary"`
		PublisherSummary     string `json:"publisher_summary"`
		Chapters             *struct {
			RuntimeLengthMs int64 `json:"runtime_length_ms"`
			Chapters        []struct {
				LengthMs      int64  `json:"length_ms"`
				StartOffsetMs int64  `json:"start_offset_ms"`
				Title         string `json:"title"`
			} `json:"chapters"`
		} `json:"chapters,omitempty"`
	} `json:"product"`
}

// AudibleClient is the primary catalog client: a region-parameterized base
// URL, a single request returning product + chapter data in one payload.
type AudibleClient struct {
	HTTPClient *http.Client
	BaseURL    string // e.g. "https://api.audible.com/1.0"
	Region     string
	limiter    *rate.Limiter
}

// NewAudibleClient returns a primary catalog client with a bounded-timeout
// HTTP client,"single-shot HTTP GET with a bounded
// timeout".
func NewAudibleClient(region string, timeout time.Duration) *AudibleClient {
	return &AudibleClient{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    "https://api.audible.com/1.0",
		Region:     region,
		limiter:    rate.NewLimiter(requestsPerSecond, 1),
	}
}

// FetchBook performs one GET for asin and normalizes the response. Per
// the rate/error policy: 4xx becomes a structured not-found
// (ErrNotFound), 5xx/timeout/DNS becomes a transient error
// (ErrTransient) — there is no in-process retry.
func (c *AudibleClient) FetchBook(ctx context.Context, asin string) (*Book, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: audible: rate limiter: %v", ErrTransient, err)
	}

	url := fmt.Sprintf("%s/catalog/products/%s?response_groups=contributors,product_attrs,product_desc,media,category_ladders,series,chapter_info&region=%s",
		c.BaseURL, asin, c.Region)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("audible: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: audible: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: audible: status %d", ErrNotFound, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: audible: status %d", ErrTransient, resp.StatusCode)
	}

	var raw audibleResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("audible: decode response: %w", err)
	}
	return normalizeAudible(&raw), nil
}

func normalizeAudible(raw *audibleResponse) *Book {
	p := raw.Product
	b := &Book{
		ASIN:        p.ASIN,
		Title:       p.Title,
		Subtitle:    p.Subtitle,
		Publisher:   p.Publisher.Name,
		Copyright:   p.Copyright,
		ISBN:        p.ISBN,
		Language:    p.Language.Name,
		ReleaseDate: p.ReleaseDate,
		Rating:      p.Rating.OverallDistribution.AverageRating,
		RuntimeMin:  p.Runtime.LengthMinutes,
		Description: p.MerchandisingSummary,
		Summary:     p.PublisherSummary,
		Source:      SourcePrimary,
	}

	for _, a := range p.Authors {
		b.Authors = append(b.Authors, Author{Name: a.Name, ID: a.ASIN})
	}
	for _, n := range p.Narrators {
		b.Narrators = append(b.Narrators, Author{Name: n.Name})
	}
	for _, c := range p.Categories {
		b.Genres = append(b.Genres, Genre{Name: c.Name})
	}
	if len(b.Genres) > 0 {
		b.GenrePath = b.Genres[0].Name
	}
	if len(p.Series) > 0 {
		b.SeriesPrimary = &SeriesPrimary{Name: p.Series[0].Title, Position: parseSeriesPosition(p.Series[0].Sequence)}
	}

	if p.ProductImages.X2400 != "" {
		b.Image = p.ProductImages.X2400
	} else {
		b.Image = p.ProductImages.X500
	}

	if p.Chapters != nil {
		chs := Chapters{
			IsAccurate:      true,
			RuntimeLengthMs: p.Chapters.RuntimeLengthMs,
		}
		for _, ch := range p.Chapters.Chapters {
			chs.Chapters = append(chs.Chapters, Chapter{
				LengthMs:      ch.LengthMs,
				StartOffsetMs: ch.StartOffsetMs,
				Title:         ch.Title,
			})
		}
		b.Chapters = &chs
	}

	return b
}

func parseSeriesPosition(seq string) float64 {
	var pos float64
	_, _ = fmt.Sscanf(seq, "%f", &pos)
	return pos
}

// searchResponse mirrors the Audible catalog search response: a list of
// product hits instead of FetchBook's single product.
type searchResponse struct {
	Products []struct {
		ASIN    string `json:"asin"`
		Title   string `json:"title"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"products"`
}

// SearchResult is one catalog search hit, trimmed to the fields the ASIN
// discovery chain's fuzzy-match scoring needs.
type SearchResult struct {
	ASIN   string
	Title  string
	Author string
}

// Search performs one GET against the catalog's keyword search endpoint,
// used as the discovery chain's last-resort title/author fuzzy match. Like
// FetchBook, a 4xx is ErrNotFound and anything else unexpected is
// ErrTransient — there is no in-process retry.
func (c *AudibleClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: audible: rate limiter: %v", ErrTransient, err)
	}

	searchURL := fmt.Sprintf("%s/catalog/products?keywords=%s&response_groups=contributors&num_results=10&region=%s",
		c.BaseURL, url.QueryEscape(query), c.Region)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("audible: build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: audible: search: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: audible: search status %d", ErrNotFound, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: audible: search status %d", ErrTransient, resp.StatusCode)
	}

	var raw searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("audible: decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(raw.Products))
	for _, p := range raw.Products {
		author := ""
		if len(p.Authors) > 0 {
			author = p.Authors[0].Name
		}
		results = append(results, SearchResult{ASIN: p.ASIN, Title: p.Title, Author: author})
	}
	return results, nil
}
