package clients

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ContentResult is the best-effort page content returned by the content
// capability: markdown plus whatever metadata the service extracted.
type ContentResult struct {
	Markdown string         `json:"markdown"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentClient fetches page content/metadata for a URL. Used only for
// preview-image enrichment; failures never affect record acceptance.
type ContentClient interface {
	FetchContent(ctx context.Context, pageURL string) (ContentResult, error)
}

type contentRequest struct {
	URL string `json:"url"`
}

// HTTPContentClient talks to the external page-content service.
type HTTPContentClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPContentClient(endpoint string, timeout time.Duration) *HTTPContentClient {
	return &HTTPContentClient{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: newHTTPClient(timeout),
	}
}

func (c *HTTPContentClient) FetchContent(ctx context.Context, pageURL string) (ContentResult, error) {
	if strings.TrimSpace(pageURL) == "" {
		return ContentResult{}, fmt.Errorf("page url is required")
	}

	var resp ContentResult
	if err := postJSON(ctx, c.httpClient, c.endpoint, contentRequest{URL: pageURL}, &resp); err != nil {
		return ContentResult{}, fmt.Errorf("content request: %w", err)
	}
	return resp, nil
}
