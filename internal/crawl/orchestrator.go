package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/groblegark/crawlgraph/internal/gateway"
	"github.com/groblegark/crawlgraph/internal/idgen"
	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/store"
)

// Failure reasons written onto edges. ReasonSameNode is also a lookup key:
// workers skip actions whose prior failure carries it.
const (
	ReasonSameNode       = "returned to same node"
	ReasonScopeViolation = "navigation left target origin"
)

// Attempt is one executed action and its observed result, ready to be
// recorded as an edge.
type Attempt struct {
	Run       *model.Run
	FromNode  *model.Node
	ToNode    *model.Node // nil when the action produced no resulting state
	NewNode   bool        // ToNode was first observed by this attempt
	Action    model.Action
	Outcome   model.Outcome
	LatencyMS int64
	Error     string
	Class     model.TransitionClass
}

// Recorded is the orchestrator's decision about one attempt.
type Recorded struct {
	Edge *model.Edge
	// ScheduleNode reports whether ToNode should be enqueued for crawling:
	// newly created, in scope, and not the node we came from.
	ScheduleNode bool
	// RunStopped reports that this attempt crossed the origin boundary and
	// terminated the run.
	RunStopped bool
	// Deduped reports that an existing edge was returned and nothing was
	// inserted.
	Deduped bool
}

// Orchestrator applies the dedup, retry-cap, self-loop, and replacement
// rules when recording action outcomes. It is the only creator of edges.
//
// The orchestrator assumes nothing about locking: every rule is re-checked
// against the store immediately before insert, because the node lock is an
// optimization that can be unavailable or can itself race.
type Orchestrator struct {
	store  store.Store
	filter gateway.ActionFilter
}

// NewOrchestrator builds an orchestrator. filter may be nil; intent labeling
// is then skipped.
func NewOrchestrator(st store.Store, filter gateway.ActionFilter) *Orchestrator {
	return &Orchestrator{store: st, filter: filter}
}

// RecordAttempt records one action attempt, enforcing the edge invariants:
// at most one successful edge per signature, at most three failed edges per
// signature, no successful self-loops, and one edge per (from, to) pair.
func (o *Orchestrator) RecordAttempt(ctx context.Context, att Attempt) (*Recorded, error) {
	// A successful edge for this signature makes the attempt a no-op,
	// whatever its own outcome was.
	if existing, err := o.findSuccess(ctx, att); err != nil {
		return nil, err
	} else if existing != nil {
		return &Recorded{Edge: existing, Deduped: true}, nil
	}

	// Bounded retry: once three failures are on record, later failures
	// short-circuit to the newest one.
	if att.Outcome == model.OutcomeFail {
		if newest, capped, err := o.failureCapped(ctx, att); err != nil {
			return nil, err
		} else if capped {
			return &Recorded{Edge: newest, Deduped: true}, nil
		}
	}

	// A success that lands back on its own from-node is not connectivity.
	if att.Outcome == model.OutcomeSuccess && att.ToNode != nil && att.ToNode.ID == att.FromNode.ID {
		att.Outcome = model.OutcomeFail
		att.Error = ReasonSameNode
		att.ToNode = nil
		att.NewNode = false
	}

	// Crossing the target origin terminates the run; the edge is recorded
	// as the failure that explains why.
	runStopped := false
	if att.Outcome == model.OutcomeSuccess && att.ToNode != nil && !sameOrigin(att.Run.TargetOrigin, att.ToNode.URL) {
		stopped, err := o.store.TransitionRun(ctx, att.Run.ID, model.RunRunning, model.RunStopped)
		if err != nil {
			return nil, fmt.Errorf("stop run on scope violation: %w", err)
		}
		runStopped = stopped
		att.Outcome = model.OutcomeFail
		att.Error = fmt.Sprintf("%s: %s", ReasonScopeViolation, att.ToNode.URL)
		att.ToNode = nil
		att.NewNode = false
	}

	// Re-check both suppression rules immediately before insert: another
	// worker may have completed the same signature between our pre-check
	// and now.
	if existing, err := o.findSuccess(ctx, att); err != nil {
		return nil, err
	} else if existing != nil {
		return &Recorded{Edge: existing, Deduped: true, RunStopped: runStopped}, nil
	}
	if att.Outcome == model.OutcomeFail {
		if newest, capped, err := o.failureCapped(ctx, att); err != nil {
			return nil, err
		} else if capped {
			return &Recorded{Edge: newest, Deduped: true, RunStopped: runStopped}, nil
		}
	}

	edge, err := o.buildEdge(att)
	if err != nil {
		return nil, err
	}
	o.labelIntent(ctx, att, edge)

	if err := o.insert(ctx, att, edge); err != nil {
		// An insert failure may itself be a race with another worker's
		// successful insert of the same signature.
		if existing, findErr := o.findSuccess(ctx, att); findErr == nil && existing != nil {
			return &Recorded{Edge: existing, Deduped: true, RunStopped: runStopped}, nil
		}
		return nil, err
	}

	// Depth counters are back-filled exactly once, the first time a newly
	// created node is reached via a classified transition.
	if att.NewNode && att.ToNode != nil {
		depths := model.DepthsFor(att.FromNode, att.Class)
		if err := o.store.UpdateNodeDepths(ctx, att.ToNode.ID, depths); err != nil {
			slog.Warn("failed to back-fill node depths", "node_id", att.ToNode.ID, "error", err)
		}
	}

	return &Recorded{
		Edge:         edge,
		ScheduleNode: att.NewNode && att.ToNode != nil && att.ToNode.ID != att.FromNode.ID && !runStopped,
		RunStopped:   runStopped,
	}, nil
}

func (o *Orchestrator) buildEdge(att Attempt) (*model.Edge, error) {
	id, err := idgen.Edge()
	if err != nil {
		return nil, err
	}

	edge := &model.Edge{
		ID:         id,
		RunID:      att.Run.ID,
		FromNodeID: att.FromNode.ID,
		Action:     att.Action,
		Outcome:    att.Outcome,
		LatencyMS:  att.LatencyMS,
		Error:      att.Error,
		Class:      att.Class,
		CreatedAt:  time.Now().UTC(),
	}
	if att.ToNode != nil {
		edge.ToNodeID = att.ToNode.ID
	}
	return edge, nil
}

// insert writes the edge, replacing any prior edge for the same (from, to)
// pair inside one transaction so connectivity never goes missing.
func (o *Orchestrator) insert(ctx context.Context, att Attempt, edge *model.Edge) error {
	err := o.store.RunInTransaction(ctx, func(tx store.Store) error {
		if att.Outcome == model.OutcomeSuccess && edge.ToNodeID != "" {
			prior, err := tx.FindEdgeByNodePair(ctx, att.Run.ID, edge.FromNodeID, edge.ToNodeID)
			if err != nil {
				return err
			}
			// Edges describe current best-known connectivity, not
			// history: the old pair edge goes before the new one lands.
			if prior != nil {
				if err := tx.DeleteEdge(ctx, prior.ID); err != nil {
					return err
				}
			}
		}
		return tx.CreateEdge(ctx, edge)
	})
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

// PriorEdge returns an existing edge that makes executing the action
// unnecessary: a recorded success for its signature, or the newest failure
// once the retry cap is reached. Returns nil when the action should run.
// Workers call this before dispatching an action to the browser so a capped
// signature is never executed a fourth time.
func (o *Orchestrator) PriorEdge(ctx context.Context, run *model.Run, from *model.Node, action model.Action) (*model.Edge, error) {
	att := Attempt{Run: run, FromNode: from, Action: action}
	if existing, err := o.findSuccess(ctx, att); err != nil || existing != nil {
		return existing, err
	}
	newest, capped, err := o.failureCapped(ctx, att)
	if err != nil || !capped {
		return nil, err
	}
	return newest, nil
}

func (o *Orchestrator) findSuccess(ctx context.Context, att Attempt) (*model.Edge, error) {
	success := model.OutcomeSuccess
	edge, err := o.store.FindEdge(ctx, att.Run.ID, att.FromNode.ID, att.Action, &success)
	if err != nil {
		return nil, fmt.Errorf("find successful edge: %w", err)
	}
	return edge, nil
}

func (o *Orchestrator) failureCapped(ctx context.Context, att Attempt) (*model.Edge, bool, error) {
	count, err := o.store.CountFailedEdges(ctx, att.Run.ID, att.FromNode.ID, att.Action)
	if err != nil {
		return nil, false, fmt.Errorf("count failed edges: %w", err)
	}
	if count < model.FailedEdgeCap {
		return nil, false, nil
	}
	fail := model.OutcomeFail
	newest, err := o.store.FindEdge(ctx, att.Run.ID, att.FromNode.ID, att.Action, &fail)
	if err != nil {
		return nil, false, fmt.Errorf("find newest failed edge: %w", err)
	}
	return newest, newest != nil, nil
}

// labelIntent is a best-effort side channel; its failure is an expected
// outcome, not an error.
func (o *Orchestrator) labelIntent(ctx context.Context, att Attempt, edge *model.Edge) {
	if o.filter == nil || att.Outcome != model.OutcomeSuccess {
		return
	}
	label, err := o.filter.LabelIntent(ctx, att.FromNode, att.ToNode, edge)
	if err != nil {
		slog.Warn("intent labeling failed", "edge_id", edge.ID, "error", err)
		return
	}
	edge.Intent = model.TruncateIntent(label)
}

// sameOrigin reports whether rawURL stays within the target origin
// (scheme + host).
func sameOrigin(origin, rawURL string) bool {
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(o.Scheme, u.Scheme) && strings.EqualFold(o.Host, u.Host)
}
