package events

import (
	"context"

	"github.com/groblegark/crawlgraph/internal/model"
)

// Event topic constants
const (
	TopicRunStarted   = "crawl.run.started"
	TopicRunCompleted = "crawl.run.completed"
	TopicRunStopped   = "crawl.run.stopped"
	TopicRunFailed    = "crawl.run.failed"
)

// Event types

type RunStarted struct {
	Run *model.Run `json:"run"`
}

type RunCompleted struct {
	RunID     string `json:"run_id"`
	EdgeCount int    `json:"edge_count"`
	Reason    string `json:"reason"`
}

type RunStopped struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

type RunFailed struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
