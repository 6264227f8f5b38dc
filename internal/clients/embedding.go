package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// EmbeddingClient converts text into a fixed-dimension float vector.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type embedRequest struct {
	Texts []string `json:"texts,omitempty"`
	Input []string `json:"input,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// HTTPEmbeddingClient talks to the external embedding service. It accepts
// both the bare {"embeddings": [...]} shape and the OpenAI-style
// {"data": [{index, embedding}]} shape.
type HTTPEmbeddingClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPEmbeddingClient(endpoint string, timeout time.Duration) *HTTPEmbeddingClient {
	return &HTTPEmbeddingClient{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: newHTTPClient(timeout),
	}
}

func (c *HTTPEmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}

	payload := embedRequest{Texts: []string{text}}
	if parsed, err := url.Parse(c.endpoint); err == nil && strings.HasSuffix(parsed.Path, "/v1/embeddings") {
		payload = embedRequest{Input: []string{text}}
	}

	var resp embedResponse
	if err := postJSON(ctx, c.httpClient, c.endpoint, payload, &resp); err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}

	vectors := resp.Embeddings
	if len(vectors) == 0 && len(resp.Data) > 0 {
		sort.Slice(resp.Data, func(i, j int) bool {
			return resp.Data[i].Index < resp.Data[j].Index
		})
		vectors = make([][]float64, 0, len(resp.Data))
		for _, row := range resp.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding response missing vectors")
	}

	return vectors[0], nil
}
