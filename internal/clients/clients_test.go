package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPSearchClient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["query"] != "scholarship OR grant" || req["limit"] != float64(30) {
			t.Errorf("request = %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"url": "https://a.example.org", "title": "A", "snippet": "first"},
				{"url": "https://b.example.org", "title": "B", "snippet": "second"},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPSearchClient(server.URL, time.Second)
	results, err := client.Search(context.Background(), "scholarship OR grant", 30, "general")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].URL != "https://a.example.org" {
		t.Fatalf("results = %v", results)
	}
}

func TestHTTPSearchClientSurfacesUpstreamErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPSearchClient(server.URL, time.Second)
	_, err := client.Search(context.Background(), "grants", 10, "")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPExtractClientSubmitAndPoll(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			if len(req["urls"].([]any)) != 2 {
				t.Errorf("urls = %v", req["urls"])
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-42"})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-42":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  "completed",
				"payload": []map[string]string{{"title": "Award"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewHTTPExtractClient(server.URL, time.Second)
	jobID, err := client.Submit(context.Background(), []string{"https://a.example.org", "https://b.example.org"}, "extract", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-42" {
		t.Fatalf("jobID = %q", jobID)
	}

	resp, err := client.Poll(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if resp.Status != PollStatusCompleted || len(resp.Payload) == 0 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHTTPEmbeddingClientBareShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float64{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	client := NewHTTPEmbeddingClient(server.URL, time.Second)
	vector, err := client.Embed(context.Background(), "fellowship text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 3 || vector[1] != 0.2 {
		t.Fatalf("vector = %v", vector)
	}
}

func TestHTTPEmbeddingClientOpenAIShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.5, 0.6}},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPEmbeddingClient(server.URL, time.Second)
	vector, err := client.Embed(context.Background(), "fellowship text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 2 || vector[0] != 0.5 {
		t.Fatalf("vector = %v", vector)
	}
}

func TestHTTPEmbeddingClientRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	client := NewHTTPEmbeddingClient("http://unused.invalid", time.Second)
	if _, err := client.Embed(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestHTTPContentClient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["url"] != "https://a.example.org/award" {
			t.Errorf("url = %q", req["url"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"markdown": "# Award",
			"metadata": map[string]string{"og:image": "https://a.example.org/img.png"},
		})
	}))
	defer server.Close()

	client := NewHTTPContentClient(server.URL, time.Second)
	result, err := client.FetchContent(context.Background(), "https://a.example.org/award")
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if result.Markdown != "# Award" || result.Metadata["og:image"] != "https://a.example.org/img.png" {
		t.Fatalf("result = %+v", result)
	}
}
