package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PollStatus is the lifecycle state reported by the extraction capability.
type PollStatus string

const (
	PollStatusPending    PollStatus = "pending"
	PollStatusProcessing PollStatus = "processing"
	PollStatusCompleted  PollStatus = "completed"
	PollStatusFailed     PollStatus = "failed"
)

// PollResponse is the state of an asynchronous extraction job.
type PollResponse struct {
	Status  PollStatus      `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// ExtractClient submits asynchronous structured-extraction jobs and polls
// their status.
type ExtractClient interface {
	Submit(ctx context.Context, urls []string, prompt string, schema json.RawMessage) (string, error)
	Poll(ctx context.Context, jobID string) (PollResponse, error)
}

type extractSubmitRequest struct {
	URLs   []string        `json:"urls"`
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema"`
}

type extractSubmitResponse struct {
	JobID string `json:"job_id"`
}

// HTTPExtractClient talks to the external structured-extraction service.
type HTTPExtractClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPExtractClient(endpoint string, timeout time.Duration) *HTTPExtractClient {
	return &HTTPExtractClient{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: newHTTPClient(timeout),
	}
}

func (c *HTTPExtractClient) Submit(ctx context.Context, urls []string, prompt string, schema json.RawMessage) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("at least one url is required")
	}

	var resp extractSubmitResponse
	err := postJSON(ctx, c.httpClient, c.endpoint+"/jobs", extractSubmitRequest{
		URLs:   urls,
		Prompt: prompt,
		Schema: schema,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("extraction submit: %w", err)
	}
	if strings.TrimSpace(resp.JobID) == "" {
		return "", fmt.Errorf("extraction submit returned empty job id")
	}
	return resp.JobID, nil
}

func (c *HTTPExtractClient) Poll(ctx context.Context, jobID string) (PollResponse, error) {
	if strings.TrimSpace(jobID) == "" {
		return PollResponse{}, fmt.Errorf("job id is required")
	}

	var resp PollResponse
	if err := getJSON(ctx, c.httpClient, c.endpoint+"/jobs/"+jobID, &resp); err != nil {
		return PollResponse{}, fmt.Errorf("extraction poll job_id=%s: %w", jobID, err)
	}
	return resp, nil
}
