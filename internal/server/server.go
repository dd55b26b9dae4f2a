// Package server exposes the HTTP control surface for crawl runs: creating
// and stopping runs, and reading the discovered state graph.
package server

import (
	"github.com/groblegark/crawlgraph/internal/crawl"
	"github.com/groblegark/crawlgraph/internal/store"
)

// CrawlServer serves the run-lifecycle and graph-read endpoints.
type CrawlServer struct {
	store   store.Store
	service *crawl.Service
}

// NewCrawlServer returns a CrawlServer backed by the given store and crawl
// service.
func NewCrawlServer(s store.Store, svc *crawl.Service) *CrawlServer {
	return &CrawlServer{store: s, service: svc}
}
