package asin

import (
	"context"

	"github.com/rodaddy/audiobook-pipeline/internal/metadata"
)

// CatalogSearcher adapts an AudibleClient's catalog keyword search into a
// Searcher, the chain's fifth and last discovery step.
type CatalogSearcher struct {
	Client *metadata.AudibleClient
}

func (s *CatalogSearcher) Search(ctx context.Context, query string) ([]SearchCandidate, error) {
	results, err := s.Client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	candidates := make([]SearchCandidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, SearchCandidate{ASIN: r.ASIN, Title: r.Title, Author: r.Author})
	}
	return candidates, nil
}
