package asin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodaddy/audiobook-pipeline/internal/metadata"
)

func TestCatalogSearcher_ConvertsResultsToCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"products": [{"asin": "B012345678", "title": "Project Hail Mary", "authors": [{"name": "Andy Weir"}]}]}`))
	}))
	defer server.Close()

	client := metadata.NewAudibleClient("", 5*time.Second)
	client.BaseURL = server.URL
	s := &CatalogSearcher{Client: client}

	candidates, err := s.Search(context.Background(), "Project Hail Mary Andy Weir")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, SearchCandidate{ASIN: "B012345678", Title: "Project Hail Mary", Author: "Andy Weir"}, candidates[0])
}

func TestCatalogSearcher_PropagatesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := metadata.NewAudibleClient("", 5*time.Second)
	client.BaseURL = server.URL
	s := &CatalogSearcher{Client: client}

	_, err := s.Search(context.Background(), "anything")
	assert.Error(t, err)
}
