// Package client is the HTTP/JSON client for the crawlgraph control
// surface, used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/groblegark/crawlgraph/internal/model"
)

// HTTPClient talks to the crawlgraph HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Graph is the node and edge dump of one run.
type Graph struct {
	Nodes []*model.Node `json:"nodes"`
	Edges []*model.Edge `json:"edges"`
}

// StartRun creates a run crawling from startURL.
func (c *HTTPClient) StartRun(ctx context.Context, startURL string) (*model.Run, error) {
	var run model.Run
	body := map[string]string{"start_url": startURL}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/runs", body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches one run by ID.
func (c *HTTPClient) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns fetches all runs.
func (c *HTTPClient) ListRuns(ctx context.Context) ([]*model.Run, error) {
	var resp struct {
		Runs []*model.Run `json:"runs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetGraph fetches a run's discovered nodes and edges.
func (c *HTTPClient) GetGraph(ctx context.Context, runID string) (*Graph, error) {
	var graph Graph
	if err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/graph", nil, &graph); err != nil {
		return nil, err
	}
	return &graph, nil
}

// StopRun stops a running run.
func (c *HTTPClient) StopRun(ctx context.Context, runID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/stop", nil, nil)
}

// Health checks the server's health endpoint.
func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the
// JSON response. If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
