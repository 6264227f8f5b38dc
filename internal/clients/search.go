package clients

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SearchResult is one candidate URL returned by the search capability.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchClient submits a weighted query string and returns candidate URLs.
type SearchClient interface {
	Search(ctx context.Context, query string, limit int, scope string) ([]SearchResult, error)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	Scope string `json:"scope,omitempty"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// HTTPSearchClient talks to the external web-search service.
type HTTPSearchClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPSearchClient(endpoint string, timeout time.Duration) *HTTPSearchClient {
	return &HTTPSearchClient{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: newHTTPClient(timeout),
	}
}

func (c *HTTPSearchClient) Search(ctx context.Context, query string, limit int, scope string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	var resp searchResponse
	err := postJSON(ctx, c.httpClient, c.endpoint, searchRequest{
		Query: query,
		Limit: limit,
		Scope: scope,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		results = append(results, r)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
