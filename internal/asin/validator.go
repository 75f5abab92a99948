package asin

import (
	"context"
	"errors"

	"github.com/rodaddy/audiobook-pipeline/internal/metadata"
)

// AggregatorValidator adapts an AudnexusClient into a Validator: 200
// accepts; any 4xx rejects, because the client reports every 4xx status
// (not only 404/422) as metadata.ErrNotFound; 5xx responses, network
// errors and other failures mark the aggregator unreachable.
type AggregatorValidator struct {
	Client *metadata.AudnexusClient
}

func (v *AggregatorValidator) Validate(ctx context.Context, candidateASIN string) (bool, error) {
	_, err := v.Client.FetchBook(ctx, candidateASIN)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, metadata.ErrNotFound) {
		return false, nil
	}
	return false, ErrUnreachable
}
