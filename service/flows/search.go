package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"nlu-agent/utils"
)

const (
	DefaultSearchBaseURL = "https://api.tavily.com"
	maxSearchResults     = 5
	snippetLength        = 300
)

// WebSearcher answers free-text queries from the web.
type WebSearcher interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

type SearchHit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

type SearchResult struct {
	Query   string      `json:"query"`
	Answer  string      `json:"answer"`
	Results []SearchHit `json:"results"`
	Mock    bool        `json:"-"`
}

// Summary is a short spoken form of the result.
func (r *SearchResult) Summary() string {
	if r.Mock {
		return fmt.Sprintf("I'd search for '%s' but my search API isn't configured yet.", r.Query)
	}
	if r.Answer != "" {
		return r.Answer
	}
	if len(r.Results) == 0 {
		return "I couldn't find any relevant results for that search."
	}
	var parts []string
	for i, hit := range r.Results {
		if i == 3 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %s", hit.Title, utils.Truncate(hit.Snippet, 100)))
	}
	return "Here's what I found: " + strings.Join(parts, " ")
}

func (r *SearchResult) UIData() map[string]any {
	return map[string]any{
		"searchQuery": r.Query,
		"answer":      r.Answer,
		"results":     r.Results,
		"resultCount": len(r.Results),
	}
}

type SearchConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SearchClient calls the Tavily search API. Without a key it answers with a
// placeholder result instead of failing.
type SearchClient struct {
	baseURL string
	apiKey  string
	httpCli *http.Client
	logger  *zap.Logger
}

func NewSearchClient(cfg SearchConfig, logger *zap.Logger) *SearchClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSearchBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpCli: &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("search"),
	}
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *SearchClient) Search(ctx context.Context, query string) (*SearchResult, error) {
	if c.apiKey == "" {
		c.logger.Debug("Search API key not configured, returning placeholder")
		return &SearchResult{
			Query:  query,
			Answer: fmt.Sprintf("I found some information about '%s'. Please configure the search API for real results.", query),
			Results: []SearchHit{{
				Title:   "Search result for: " + query,
				URL:     "https://example.com",
				Snippet: "This is a placeholder search result.",
				Score:   0.9,
			}},
			Mock: true,
		}, nil
	}

	bs, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    maxSearchResults,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(bs))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search api returned %d: %s", resp.StatusCode, body)
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	result := &SearchResult{Query: query, Answer: tr.Answer}
	for _, r := range tr.Results {
		result.Results = append(result.Results, SearchHit{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: utils.Truncate(r.Content, snippetLength),
			Score:   r.Score,
		})
	}
	if len(result.Results) > maxSearchResults {
		result.Results = result.Results[:maxSearchResults]
	}
	return result, nil
}
