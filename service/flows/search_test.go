package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchClient_WithoutKeyReturnsPlaceholder(t *testing.T) {
	res, err := NewSearchClient(SearchConfig{}, nil).Search(context.Background(), "go generics")
	require.NoError(t, err)

	assert.True(t, res.Mock)
	assert.Len(t, res.Results, 1)
	assert.Equal(t, "I'd search for 'go generics' but my search API isn't configured yet.", res.Summary())
}

func TestSearchClient_Search(t *testing.T) {
	long := strings.Repeat("x", 400)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)

		var body tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body.APIKey)
		assert.Equal(t, "latest go release", body.Query)
		assert.True(t, body.IncludeAnswer)

		var results []string
		for i := 0; i < 7; i++ {
			results = append(results, fmt.Sprintf(`{"title": "r%d", "url": "https://e/%d", "content": %q, "score": 0.5}`, i, i, long))
		}
		_, _ = fmt.Fprintf(w, `{"answer": "", "results": [%s]}`, strings.Join(results, ","))
	}))
	defer srv.Close()

	res, err := NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "secret"}, nil).Search(context.Background(), "latest go release")
	require.NoError(t, err)

	assert.False(t, res.Mock)
	require.Len(t, res.Results, maxSearchResults)
	assert.Len(t, res.Results[0].Snippet, snippetLength)
	assert.True(t, strings.HasPrefix(res.Summary(), "Here's what I found: r0: "))
	assert.Equal(t, 5, res.UIData()["resultCount"])
}

func TestSearchClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "bad"}, nil).Search(context.Background(), "q")
	assert.Error(t, err)
}

func TestSearchResult_Summary(t *testing.T) {
	assert.Equal(t, "Go 1.23", (&SearchResult{Answer: "Go 1.23"}).Summary())
	assert.Equal(t, "I couldn't find any relevant results for that search.", (&SearchResult{}).Summary())
}
