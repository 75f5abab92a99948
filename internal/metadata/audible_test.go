package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudibleFetchBook_NormalizesProductPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"product": {
				"asin": "B002V5D1CG",
				"title": "Test Book",
				"subtitle": "A Subtitle",
				"authors": [{"name": "Author One", "asin": "A1"}],
				"narrators": [{"name": "Narrator One"}],
				"publisher": {"name": "Test Publisher"},
				"isbn": "9781234567890",
				"release_date": "2023-05-15",
				"product_images": {"2400": "https://example.com/2400.jpg", "500": "https://example.com/500.jpg"},
				"chapters": {
					"runtime_length_ms": 900000,
					"chapters": [{"length_ms": 300000, "start_offset_ms": 0, "title": "ch1"}]
				}
			}
		}`))
	}))
	defer server.Close()

	c := NewAudibleClient("us", 5*time.Second)
	c.BaseURL = server.URL

	book, err := c.FetchBook(context.Background(), "B002V5D1CG")
	require.NoError(t, err)
	assert.Equal(t, "Test Book", book.Title)
	assert.Equal(t, "A Subtitle", book.Subtitle)
	assert.Equal(t, "Test Publisher", book.Publisher)
	assert.Equal(t, "https://example.com/2400.jpg", book.Image)
	assert.Equal(t, SourcePrimary, book.Source)
	require.NotNil(t, book.Chapters)
	assert.Equal(t, int64(900000), book.Chapters.RuntimeLengthMs)
}

func TestAudibleFetchBook_4xxReturnsErrNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewAudibleClient("us", 5*time.Second)
	c.BaseURL = server.URL

	_, err := c.FetchBook(context.Background(), "B002V5D1CG")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAudibleSearch_NormalizesProductList(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("keywords")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"products": [
				{"asin": "B002V5D1CG", "title": "Test Book", "authors": [{"name": "Author One"}]},
				{"asin": "B003XYZ123", "title": "Another Book", "authors": []}
			]
		}`))
	}))
	defer server.Close()

	c := NewAudibleClient("us", 5*time.Second)
	c.BaseURL = server.URL

	results, err := c.Search(context.Background(), "Test Book Author One")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Test Book Author One", gotQuery)
	assert.Equal(t, SearchResult{ASIN: "B002V5D1CG", Title: "Test Book", Author: "Author One"}, results[0])
	assert.Equal(t, SearchResult{ASIN: "B003XYZ123", Title: "Another Book", Author: ""}, results[1])
}

func TestAudibleSearch_4xxReturnsErrNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewAudibleClient("us", 5*time.Second)
	c.BaseURL = server.URL

	_, err := c.Search(context.Background(), "whatever")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAudibleSearch_5xxReturnsErrTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewAudibleClient("us", 5*time.Second)
	c.BaseURL = server.URL

	_, err := c.Search(context.Background(), "whatever")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestAudibleFetchBook_FallsBackTo500pxCover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"product": {"asin": "X", "title": "T", "product_images": {"500": "https://example.com/500.jpg"}}}`))
	}))
	defer server.Close()

	c := NewAudibleClient("us", 5*time.Second)
	c.BaseURL = server.URL

	book, err := c.FetchBook(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/500.jpg", book.Image)
}
