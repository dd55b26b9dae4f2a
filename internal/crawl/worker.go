package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/crawlgraph/internal/artifact"
	"github.com/groblegark/crawlgraph/internal/dispatch"
	"github.com/groblegark/crawlgraph/internal/gateway"
	"github.com/groblegark/crawlgraph/internal/idgen"
	"github.com/groblegark/crawlgraph/internal/lock"
	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/statehash"
	"github.com/groblegark/crawlgraph/internal/store"
)

// Completion-check debounce horizons. Each horizon gets its own lock key so
// a short followup check and the steady-interval check are scheduled
// independently.
const (
	horizonShort    = "short"
	horizonInterval = "interval"

	shortCheckDelay = 10 * time.Second
)

// Worker processes one crawl_node job: it claims the node, reproduces its
// state in a fresh browser session, executes the node's candidate actions
// strictly sequentially, and fans out a job per newly discovered node.
//
// Concurrency exists across nodes, never within one node's action set. One
// worker invocation owns exactly one browser session for its lifetime.
type Worker struct {
	store      store.Store
	locks      lock.Coordinator
	browser    gateway.Browser
	filter     gateway.ActionFilter
	artifacts  artifact.Store
	dispatcher dispatch.Dispatcher
	orch       *Orchestrator
	memory     *MemoryBank

	lockTTL       time.Duration
	checkInterval time.Duration
}

// NewWorker wires a worker from its collaborators.
func NewWorker(st store.Store, locks lock.Coordinator, browser gateway.Browser, filter gateway.ActionFilter, art artifact.Store, disp dispatch.Dispatcher, orch *Orchestrator, mem *MemoryBank, lockTTL, checkInterval time.Duration) *Worker {
	return &Worker{
		store:         st,
		locks:         locks,
		browser:       browser,
		filter:        filter,
		artifacts:     art,
		dispatcher:    disp,
		orch:          orch,
		memory:        mem,
		lockTTL:       lockTTL,
		checkInterval: checkInterval,
	}
}

// Crawl runs the per-node state machine. Lock contention and a non-running
// run are normal signals to abort silently, not errors; only faults the job
// runner should retry are returned.
func (w *Worker) Crawl(ctx context.Context, runID, nodeID string) error {
	run, err := w.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return nil
	}

	key := lock.NodeKey(runID, nodeID)
	if !w.locks.TryAcquire(ctx, key, w.lockTTL) {
		// Another worker owns this node. Its lock, its job.
		slog.Debug("node locked elsewhere, skipping", "run_id", runID, "node_id", nodeID)
		return nil
	}
	defer w.locks.Release(context.WithoutCancel(ctx), key)

	node, err := w.store.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("load node %s: %w", nodeID, err)
	}

	mem := w.memory.For(runID)
	snap := w.loadSnapshot(ctx, node, mem)

	sess, err := w.browser.OpenSession(ctx, node.URL, snap.Storage)
	if err != nil {
		return fmt.Errorf("open session for node %s: %w", nodeID, err)
	}
	defer sess.Close()

	if len(snap.Inputs) > 0 {
		if err := sess.Hydrate(ctx, snap.Inputs); err != nil {
			slog.Warn("input hydration failed", "node_id", nodeID, "error", err)
		}
	}

	page, err := sess.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capture node %s: %w", nodeID, err)
	}
	rememberSecrets(mem, page.Inputs)

	if run, err = w.recheck(ctx, runID); err != nil || run == nil {
		return err
	}

	// Memory refresh is a best-effort side channel; its failure is an
	// expected outcome, not an error.
	if changed, err := w.filter.UpdateMemory(ctx, mem, page); err != nil {
		slog.Warn("memory update failed", "run_id", runID, "error", err)
	} else if changed {
		if err := w.dispatcher.Enqueue(ctx, dispatch.JobReconcilePending, dispatch.ReconcilePendingJob{RunID: runID}, 0); err != nil {
			slog.Warn("failed to enqueue reconcile job", "run_id", runID, "error", err)
		}
	}

	actions, err := w.filterActions(ctx, sess, run, node, mem)
	if err != nil {
		return err
	}

	if run, err = w.recheck(ctx, runID); err != nil || run == nil {
		return err
	}

	scheduled, err := w.execute(ctx, sess, run, node, actions, snap.Inputs)
	if err != nil {
		return err
	}

	for _, id := range scheduled {
		if err := w.dispatcher.Enqueue(ctx, dispatch.JobCrawlNode, dispatch.CrawlNodeJob{RunID: runID, NodeID: id}, 0); err != nil {
			slog.Warn("failed to enqueue crawl job", "run_id", runID, "node_id", id, "error", err)
		}
	}

	w.scheduleCompletionChecks(ctx, runID)
	return nil
}

// recheck reloads the run and reports nil when it has gone terminal, so
// callers abort without further side effects.
func (w *Worker) recheck(ctx context.Context, runID string) (*model.Run, error) {
	run, err := w.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reload run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return nil, nil
	}
	return run, nil
}

// filterActions extracts the node's candidate actions and reduces them to
// the executable set: no-input actions pass through, input actions only when
// run memory can answer them, and actions already known to loop back to this
// node are dropped.
func (w *Worker) filterActions(ctx context.Context, sess gateway.Session, run *model.Run, node *model.Node, mem *model.RunMemory) ([]model.Action, error) {
	candidates, err := sess.ExtractActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract actions for node %s: %w", node.ID, err)
	}

	var plain, needInput []model.Action
	for _, a := range candidates {
		if a.Type.NeedsInput() && a.Value == "" {
			needInput = append(needInput, a)
		} else {
			plain = append(plain, a)
		}
	}

	if len(needInput) > 0 {
		fillable, err := w.filter.FilterFillable(ctx, needInput, mem)
		if err != nil {
			slog.Warn("fillable filtering failed, skipping input actions", "node_id", node.ID, "error", err)
		} else {
			plain = append(plain, fillable...)
		}
	}

	out := plain[:0]
	for _, a := range plain {
		looped, err := w.knownSameNodeLoop(ctx, run.ID, node.ID, a)
		if err != nil {
			return nil, err
		}
		if !looped {
			out = append(out, a)
		}
	}
	return out, nil
}

// knownSameNodeLoop reports whether this action signature previously failed
// because it returned to its own from-node. Re-executing those is pure
// waste: the outcome is deterministic enough to trust the record.
func (w *Worker) knownSameNodeLoop(ctx context.Context, runID, nodeID string, action model.Action) (bool, error) {
	fail := model.OutcomeFail
	prior, err := w.store.FindEdge(ctx, runID, nodeID, action, &fail)
	if err != nil {
		return false, fmt.Errorf("look up prior failure: %w", err)
	}
	return prior != nil && prior.Error == ReasonSameNode, nil
}

// execute runs the filtered action list sequentially, recording each attempt
// through the orchestrator. It returns the IDs of newly discovered nodes to
// schedule. Per-action jobs were deliberately rejected: one browser session
// stays authoritative for one node's action set.
func (w *Worker) execute(ctx context.Context, sess gateway.Session, run *model.Run, node *model.Node, actions []model.Action, hydrate []model.InputState) ([]string, error) {
	var scheduled []string
	for i, action := range actions {
		var err error
		if run, err = w.recheck(ctx, run.ID); err != nil {
			return scheduled, err
		}
		if run == nil {
			return scheduled, nil
		}

		// Skip execution entirely when the record already decides the
		// outcome: a prior success, or an exhausted retry budget.
		if prior, err := w.orch.PriorEdge(ctx, run, node, action); err != nil {
			return scheduled, err
		} else if prior != nil {
			continue
		}

		if i > 0 {
			if err := w.reposition(ctx, sess, node, hydrate); err != nil {
				return scheduled, err
			}
		}

		result, err := sess.Perform(ctx, action)
		if err != nil {
			// Environment-level fault, not an action failure. Let the
			// runner's retry policy have it.
			return scheduled, fmt.Errorf("perform %s on node %s: %w", action.Type, node.ID, err)
		}

		att := Attempt{
			Run:       run,
			FromNode:  node,
			Action:    action,
			Outcome:   result.Outcome,
			LatencyMS: result.LatencyMS,
			Error:     result.Error,
			Class:     model.TransitionInteractionOnly,
		}

		if result.Outcome == model.OutcomeSuccess {
			after, err := sess.Capture(ctx)
			if err != nil {
				return scheduled, fmt.Errorf("capture after action: %w", err)
			}
			mem := w.memory.For(run.ID)
			rememberSecrets(mem, after.Inputs)
			toNode, created, err := w.resolveNode(ctx, run.ID, after)
			if err != nil {
				return scheduled, err
			}
			att.ToNode = toNode
			att.NewNode = created
			att.Class = Classify(node, toNode, after)
		}

		rec, err := w.orch.RecordAttempt(ctx, att)
		if err != nil {
			return scheduled, err
		}
		if rec.ScheduleNode {
			scheduled = append(scheduled, rec.Edge.ToNodeID)
		}
		if rec.RunStopped {
			return scheduled, nil
		}
	}
	return scheduled, nil
}

// reposition re-navigates to the node's canonical URL when the previous
// action drifted the page, and re-hydrates known inputs.
func (w *Worker) reposition(ctx context.Context, sess gateway.Session, node *model.Node, hydrate []model.InputState) error {
	cur, err := sess.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("read current url: %w", err)
	}
	if statehash.NormalizeURL(cur) == node.URLNormalized {
		return nil
	}
	if err := sess.Navigate(ctx, node.URL); err != nil {
		return fmt.Errorf("re-navigate to node %s: %w", node.ID, err)
	}
	if len(hydrate) > 0 {
		if err := sess.Hydrate(ctx, hydrate); err != nil {
			slog.Warn("input re-hydration failed", "node_id", node.ID, "error", err)
		}
	}
	return nil
}

// resolveNode maps a captured page onto its node, creating one the first
// time the state is observed. A create that loses a race to a concurrent
// worker falls back to the winner's node.
func (w *Worker) resolveNode(ctx context.Context, runID string, page *model.PageState) (*model.Node, bool, error) {
	urlNorm := statehash.NormalizeURL(page.URL)
	fp := statehash.StorageFingerprint(page.Storage)
	stateHash := statehash.StateHash(page.Auth, fp)
	a11yHash := statehash.A11yHash(page.A11y)
	inputHash := statehash.InputHash(page.Inputs)

	existing, err := w.store.FindNode(ctx, runID, urlNorm, a11yHash, stateHash, inputHash)
	if err != nil {
		return nil, false, fmt.Errorf("find node: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	id, err := idgen.Node()
	if err != nil {
		return nil, false, err
	}
	node := &model.Node{
		ID:            id,
		RunID:         runID,
		URL:           page.URL,
		URLNormalized: urlNorm,
		A11yHash:      a11yHash,
		StateHash:     stateHash,
		ContentHash:   statehash.ContentHash(page.VisibleText),
		InputHash:     inputHash,
		CreatedAt:     time.Now().UTC(),
	}
	w.persistArtifacts(ctx, node, page)

	if err := w.store.CreateNode(ctx, node); err != nil {
		// Unique-violation race: a concurrent worker observed the same
		// state first. Their node wins.
		winner, findErr := w.store.FindNode(ctx, runID, urlNorm, a11yHash, stateHash, inputHash)
		if findErr == nil && winner != nil {
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("create node: %w", err)
	}
	return node, true, nil
}

// nodeSnapshot is the JSON blob persisted per node for state reproduction.
// Secret input values are stored as hashes only; the run-scoped reverse map
// restores them at hydration time.
type nodeSnapshot struct {
	Storage model.StorageSnapshot `json:"storage"`
	Inputs  []model.InputState    `json:"inputs,omitempty"`
}

// persistArtifacts writes the page's captured blobs and stamps their keys on
// the node. Artifact loss degrades state reproduction, not correctness, so
// failures are logged and crawling continues.
func (w *Worker) persistArtifacts(ctx context.Context, node *model.Node, page *model.PageState) {
	put := func(kind string, data []byte, contentType string) string {
		if len(data) == 0 {
			return ""
		}
		key := artifact.Key(node.RunID, node.ID, kind)
		if err := w.artifacts.Put(ctx, key, data, contentType); err != nil {
			slog.Warn("failed to store artifact", "key", key, "error", err)
			return ""
		}
		return key
	}

	node.DOMKey = put(artifact.KindDOM, page.DOM, "text/html")
	node.CSSKey = put(artifact.KindCSS, page.CSS, "text/css")
	node.ScreenshotKey = put(artifact.KindScreenshot, page.Screenshot, "image/png")

	snap := nodeSnapshot{Storage: page.Storage, Inputs: maskSecrets(page.Inputs)}
	if data, err := json.Marshal(snap); err == nil {
		node.SnapshotKey = put(artifact.KindSnapshot, data, "application/json")
	}
}

// loadSnapshot fetches a node's storage snapshot and resolves secret input
// hashes back to raw values from run memory. A missing or unreadable
// snapshot degrades to an empty one.
func (w *Worker) loadSnapshot(ctx context.Context, node *model.Node, mem *model.RunMemory) nodeSnapshot {
	var snap nodeSnapshot
	if node.SnapshotKey == "" {
		return snap
	}
	data, err := w.artifacts.Get(ctx, node.SnapshotKey)
	if err != nil {
		slog.Warn("failed to load storage snapshot", "key", node.SnapshotKey, "error", err)
		return snap
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("malformed storage snapshot", "key", node.SnapshotKey, "error", err)
		return nodeSnapshot{}
	}

	inputs := snap.Inputs[:0]
	for _, in := range snap.Inputs {
		if in.Secret {
			raw, ok := mem.SecretByHash(in.Value)
			if !ok {
				// The secret was observed in another process. Its raw
				// value is unrecoverable; skip the field.
				continue
			}
			in.Value = raw
		}
		inputs = append(inputs, in)
	}
	snap.Inputs = inputs
	return snap
}

// scheduleCompletionChecks enqueues completion checks at two horizons: a
// short followup and the steady check interval. Per-horizon debounce locks,
// never released, absorb the burst of concurrently finishing workers.
func (w *Worker) scheduleCompletionChecks(ctx context.Context, runID string) {
	horizons := []struct {
		name  string
		delay time.Duration
	}{
		{horizonShort, shortCheckDelay},
		{horizonInterval, w.checkInterval},
	}
	for _, h := range horizons {
		if !w.locks.TryAcquire(ctx, lock.CompletionKey(runID, h.name), h.delay) {
			continue
		}
		if err := w.dispatcher.Enqueue(ctx, dispatch.JobCheckCompletion, dispatch.CheckCompletionJob{RunID: runID}, h.delay); err != nil {
			slog.Warn("failed to enqueue completion check", "run_id", runID, "error", err)
		}
	}
}

// rememberSecrets records the raw values of password-class fields under
// their hashes so later sessions can re-hydrate them.
func rememberSecrets(mem *model.RunMemory, inputs []model.InputState) {
	for _, in := range inputs {
		if in.Secret && in.Value != "" {
			mem.RememberSecret(statehash.HashString(in.Value), in.Value)
		}
	}
}

// maskSecrets replaces secret input values with their hashes before a
// snapshot is written at rest.
func maskSecrets(inputs []model.InputState) []model.InputState {
	if len(inputs) == 0 {
		return nil
	}
	out := make([]model.InputState, len(inputs))
	copy(out, inputs)
	for i := range out {
		if out[i].Secret {
			out[i].Value = statehash.HashString(out[i].Value)
		}
	}
	return out
}
