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

func TestAudnexusFetchBook_NormalizesAuthorsFromStringArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/books/B0BXJF2LW5", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"asin": "B0BXJF2LW5",
			"title": "Test Book",
			"authors": ["Test Author"],
			"narrators": ["Test Narrator"],
			"publisherName": "Test Publisher",
			"releaseDate": "2023-05-15",
			"runtimeLengthMin": 480
		}`))
	}))
	defer server.Close()

	c := NewAudnexusClient("", 5*time.Second)
	c.BaseURL = server.URL

	book, err := c.FetchBook(context.Background(), "B0BXJF2LW5")
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, "Test Book", book.Title)
	assert.Equal(t, SourceFallback, book.Source)
	assert.Equal(t, "Test Author", book.FirstAuthorName())
	assert.Equal(t, "Test Narrator", book.FirstNarratorName())
}

func TestAudnexusFetchBook_404ReturnsErrNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewAudnexusClient("", 5*time.Second)
	c.BaseURL = server.URL

	_, err := c.FetchBook(context.Background(), "B000000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAudnexusFetchBook_500ReturnsErrTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewAudnexusClient("", 5*time.Second)
	c.BaseURL = server.URL

	_, err := c.FetchBook(context.Background(), "B000000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestAudnexusFetchChapters_MergesIntoExistingBook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/books/B0BXJF2LW5/chapters", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"isAccurate": true,
			"runtimeLengthMs": 900000,
			"chapters": [{"lengthMs": 300000, "startOffsetMs": 0, "title": "ch1"}]
		}`))
	}))
	defer server.Close()

	c := NewAudnexusClient("", 5*time.Second)
	c.BaseURL = server.URL

	book := &Book{ASIN: "B0BXJF2LW5", Title: "Test Book"}
	out, err := c.FetchChapters(context.Background(), "B0BXJF2LW5", book)
	require.NoError(t, err)
	require.NotNil(t, out.Chapters)
	assert.Equal(t, int64(900000), out.Chapters.RuntimeLengthMs)
	assert.Len(t, out.Chapters.Chapters, 1)
	assert.Equal(t, "Test Book", out.Title)
}

func TestAuthorNames_HandlesAllShapes(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, authorNames([]interface{}{"A", "B"}))
	assert.Equal(t, []string{"A"}, authorNames(map[string]interface{}{"name": "A"}))
	assert.Equal(t, []string{"A"}, authorNames("A"))
	assert.Nil(t, authorNames(nil))
}
