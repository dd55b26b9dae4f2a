// Package gateway defines the interfaces to the crawl core's external
// collaborators (the browser-automation driver, the DOM scanner, and the
// language-model action filter) together with chromedp- and OpenAI-backed
// implementations. The core depends only on the interfaces.
package gateway

import (
	"context"

	"github.com/groblegark/crawlgraph/internal/model"
)

// ActionResult reports the outcome of one performed action. Ordinary action
// failures are data, not errors; Perform returns a Go error only for
// environment-level faults.
type ActionResult struct {
	Outcome   model.Outcome
	LatencyMS int64
	Error     string
}

// Session is one live browser session. A NodeCrawlWorker owns exactly one
// session for its lifetime and drives it strictly sequentially.
type Session interface {
	// Navigate loads a URL and waits for network idle with a bounded
	// timeout. Never an unbounded wait.
	Navigate(ctx context.Context, url string) error
	// CurrentURL reports the page's present location, for drift detection.
	CurrentURL(ctx context.Context) (string, error)
	// Capture observes the live page: raw hash inputs plus live signals.
	Capture(ctx context.Context) (*model.PageState, error)
	// ExtractActions lists candidate actions on the live page,
	// deduplicated by (type, target, value).
	ExtractActions(ctx context.Context) ([]model.Action, error)
	// Hydrate replays known input values into the page's fields.
	Hydrate(ctx context.Context, inputs []model.InputState) error
	// Perform executes one action and reports outcome and latency.
	Perform(ctx context.Context, action model.Action) (ActionResult, error)
	Close() error
}

// Browser creates sessions. Implementations recreate the browsing context
// with a prior storage snapshot so a node's state can be reproduced.
type Browser interface {
	OpenSession(ctx context.Context, url string, storage model.StorageSnapshot) (Session, error)
}

// ActionFilter is the language-model collaborator. All methods are
// best-effort: failures degrade to "no change" and must never stop a crawl.
type ActionFilter interface {
	// FilterFillable decides which input-requiring actions can be answered
	// from run memory, returning them with values filled in.
	FilterFillable(ctx context.Context, actions []model.Action, mem *model.RunMemory) ([]model.Action, error)
	// UpdateMemory refreshes run-scoped memory from visible page signals
	// and reports whether anything changed.
	UpdateMemory(ctx context.Context, mem *model.RunMemory, page *model.PageState) (bool, error)
	// LabelIntent produces a short human label for an edge.
	LabelIntent(ctx context.Context, from, to *model.Node, edge *model.Edge) (string, error)
}
