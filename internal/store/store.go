package store

import (
	"context"
	"errors"
	"time"

	"github.com/groblegark/crawlgraph/internal/model"
)

// ErrNotFound is returned by Get* methods when no record exists.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for the crawl graph. All lookups
// are scoped by run ID; no cross-run node reuse is permitted.
//
// The store is the single source of truth: its uniqueness checks must hold
// independently of any lock coordination, since locks are best-effort.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context) ([]*model.Run, error)
	// TransitionRun atomically moves a run from one status to another.
	// It reports false when the run was not in the expected status, which
	// is how concurrent completers and stoppers stay exactly-once.
	TransitionRun(ctx context.Context, id string, from, to model.RunStatus) (bool, error)

	// Nodes
	// FindNode implements the two-tier identity lookup: first by
	// (urlNorm, stateHash, inputHash) when inputHash is non-empty, so that
	// form-validation noise in the a11y tree cannot fork the graph, then
	// by (urlNorm, a11yHash, stateHash). Returns nil when no node matches.
	FindNode(ctx context.Context, runID, urlNorm, a11yHash, stateHash, inputHash string) (*model.Node, error)
	CreateNode(ctx context.Context, node *model.Node) error
	GetNode(ctx context.Context, id string) (*model.Node, error)
	ListNodes(ctx context.Context, runID string) ([]*model.Node, error)
	UpdateNodeDepths(ctx context.Context, id string, depths model.NodeDepths) error

	// Edges
	// FindEdge returns the newest edge matching the action signature,
	// optionally restricted to one outcome. Returns nil when none match.
	FindEdge(ctx context.Context, runID, fromNodeID string, action model.Action, outcome *model.Outcome) (*model.Edge, error)
	CountFailedEdges(ctx context.Context, runID, fromNodeID string, action model.Action) (int, error)
	// FindEdgeByNodePair returns the newest successful edge for an exact
	// (from, to) node pair, regardless of action. Returns nil when none exists.
	FindEdgeByNodePair(ctx context.Context, runID, fromNodeID, toNodeID string) (*model.Edge, error)
	CreateEdge(ctx context.Context, edge *model.Edge) error
	DeleteEdge(ctx context.Context, id string) error
	ListEdges(ctx context.Context, runID string) ([]*model.Edge, error)
	CountSuccessEdges(ctx context.Context, runID string) (int, error)
	CountRecentSuccessEdges(ctx context.Context, runID string, window time.Duration) (int, error)

	// RunInTransaction executes fn against a transactional view of the
	// store, committing on success and rolling back on error. Used for the
	// delete+insert edge replacement so connectivity never goes missing.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
