// Package dispatch defines the job-queue contract the crawl core enqueues
// work into, plus NATS-backed and in-process implementations. Delivery is
// at-least-once; the orchestrator's idempotency rules are what make duplicate
// delivery safe.
package dispatch

import (
	"context"
	"time"
)

// Job type constants.
const (
	JobCrawlNode        = "crawl_node"
	JobCheckCompletion  = "check_completion"
	JobReconcilePending = "reconcile_pending"
	JobAnalyzeRun       = "analyze_run"
)

// SubjectPrefix is prepended to job types to form queue subjects.
const SubjectPrefix = "crawl.job."

// Subject returns the queue subject for a job type.
func Subject(jobType string) string {
	return SubjectPrefix + jobType
}

// Queue is the queue-group name workers compete in.
const Queue = "crawl-workers"

// Job payloads

type CrawlNodeJob struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
}

type CheckCompletionJob struct {
	RunID string `json:"run_id"`
}

type ReconcilePendingJob struct {
	RunID string `json:"run_id"`
}

type AnalyzeRunJob struct {
	RunID string `json:"run_id"`
}

// Dispatcher is the interface for enqueueing jobs.
type Dispatcher interface {
	// Enqueue publishes a job, optionally after a delay. A zero delay
	// publishes immediately.
	Enqueue(ctx context.Context, jobType string, payload any, delay time.Duration) error
	Close() error
}

// Handler processes one delivered job payload.
type Handler func(ctx context.Context, payload []byte) error

// Registry is the handler-registration surface shared by the NATS Runner and
// the in-process dispatcher.
type Registry interface {
	Handle(jobType string, h Handler)
}
