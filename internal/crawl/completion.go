package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/crawlgraph/internal/config"
	"github.com/groblegark/crawlgraph/internal/dispatch"
	"github.com/groblegark/crawlgraph/internal/events"
	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/store"
)

// CompletionDetector decides when a run has stopped producing new
// connectivity and closes it out. It holds no state of its own; every
// decision is recomputed from edge statistics.
type CompletionDetector struct {
	store      store.Store
	dispatcher dispatch.Dispatcher
	publisher  events.Publisher
	thresholds config.Completion
}

func NewCompletionDetector(st store.Store, disp dispatch.Dispatcher, pub events.Publisher, thresholds config.Completion) *CompletionDetector {
	return &CompletionDetector{store: st, dispatcher: disp, publisher: pub, thresholds: thresholds}
}

// CheckCompletion evaluates the completion rules for a run. When the run is
// complete it transitions it to completed and enqueues the analysis job,
// exactly once across concurrent checkers; otherwise it reschedules itself
// after the check interval. Reports whether the run is now complete.
func (d *CompletionDetector) CheckCompletion(ctx context.Context, runID string) (bool, error) {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		// Already closed out, by us or by a scope violation. Nothing to
		// reschedule.
		return run.Status == model.RunCompleted, nil
	}

	done, reason, total, err := d.evaluate(ctx, runID)
	if err != nil {
		return false, err
	}
	if !done {
		if err := d.dispatcher.Enqueue(ctx, dispatch.JobCheckCompletion, dispatch.CheckCompletionJob{RunID: runID}, d.thresholds.CheckInterval); err != nil {
			slog.Warn("failed to reschedule completion check", "run_id", runID, "error", err)
		}
		return false, nil
	}

	transitioned, err := d.store.TransitionRun(ctx, runID, model.RunRunning, model.RunCompleted)
	if err != nil {
		return false, fmt.Errorf("complete run %s: %w", runID, err)
	}
	if !transitioned {
		// A concurrent checker or stopper got there first. The analysis
		// job is theirs to enqueue; re-triggering it here would double it.
		return false, nil
	}

	slog.Info("run complete", "run_id", runID, "reason", reason)
	if err := d.publisher.Publish(ctx, events.TopicRunCompleted, events.RunCompleted{RunID: runID, EdgeCount: total, Reason: reason}); err != nil {
		slog.Warn("failed to publish run completed event", "run_id", runID, "error", err)
	}
	if err := d.dispatcher.Enqueue(ctx, dispatch.JobAnalyzeRun, dispatch.AnalyzeRunJob{RunID: runID}, 0); err != nil {
		slog.Warn("failed to enqueue analysis job", "run_id", runID, "error", err)
	}
	return true, nil
}

// evaluate applies the completion rules in order, first match wins. The
// success-edge total is returned alongside the verdict.
func (d *CompletionDetector) evaluate(ctx context.Context, runID string) (bool, string, int, error) {
	t := d.thresholds

	total, err := d.store.CountSuccessEdges(ctx, runID)
	if err != nil {
		return false, "", 0, fmt.Errorf("count success edges: %w", err)
	}

	if total >= t.MaxEdgeCount {
		return true, "edge cap reached", total, nil
	}

	if total >= t.MinEdgesForRateCheck {
		recent, err := d.recent(ctx, runID, t.RecentWindow)
		if err != nil {
			return false, "", 0, err
		}
		if recent < t.MinRecentThreshold {
			return true, "discovery rate stalled", total, nil
		}
	}

	if total > 0 {
		for _, window := range []time.Duration{t.NoNewEdgesWindow, t.LongNoNewEdgesWindow} {
			recent, err := d.recent(ctx, runID, window)
			if err != nil {
				return false, "", 0, err
			}
			if recent == 0 {
				return true, "no new edges", total, nil
			}
		}
	}

	return false, "", total, nil
}

func (d *CompletionDetector) recent(ctx context.Context, runID string, window time.Duration) (int, error) {
	n, err := d.store.CountRecentSuccessEdges(ctx, runID, window)
	if err != nil {
		return 0, fmt.Errorf("count recent success edges: %w", err)
	}
	return n, nil
}
