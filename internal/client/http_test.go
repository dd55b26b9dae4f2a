package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/groblegark/crawlgraph/internal/model"
)

func TestStartRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/runs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["start_url"] != "https://app.example.com" {
			t.Errorf("start_url = %q", body["start_url"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&model.Run{ID: "run-1", Status: model.RunRunning})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok")
	run, err := c.StartRun(context.Background(), "https://app.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != "run-1" || run.Status != model.RunRunning {
		t.Errorf("run = %+v", run)
	}
}

func TestGetGraph(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runs/run-1/graph" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"nodes": []*model.Node{{ID: "nd-1"}},
			"edges": []*model.Edge{{ID: "ed-1"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	graph, err := c.GetGraph(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(graph.Nodes) != 1 || len(graph.Edges) != 1 {
		t.Errorf("graph = %d nodes, %d edges", len(graph.Nodes), len(graph.Edges))
	}
}

func TestErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.GetRun(context.Background(), "run-missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "run not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}
