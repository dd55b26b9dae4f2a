package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/groblegark/crawlgraph/internal/dispatch"
	"github.com/groblegark/crawlgraph/internal/events"
	"github.com/groblegark/crawlgraph/internal/gateway"
	"github.com/groblegark/crawlgraph/internal/idgen"
	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/store"
)

// Service owns run lifecycle: creating a run with its start node, stopping
// one on request, and wiring the job handlers into a dispatcher.
type Service struct {
	store      store.Store
	browser    gateway.Browser
	dispatcher dispatch.Dispatcher
	worker     *Worker
	detector   *CompletionDetector
	memory     *MemoryBank
	publisher  events.Publisher

	checkInterval time.Duration
}

func NewService(st store.Store, browser gateway.Browser, disp dispatch.Dispatcher, worker *Worker, detector *CompletionDetector, mem *MemoryBank, pub events.Publisher, checkInterval time.Duration) *Service {
	return &Service{
		store:         st,
		browser:       browser,
		dispatcher:    disp,
		worker:        worker,
		detector:      detector,
		memory:        mem,
		publisher:     pub,
		checkInterval: checkInterval,
	}
}

// StartRun creates a run, captures its start node from a live page load, and
// enqueues the first crawl job plus the first completion check. A setup
// failure after the run row exists marks the run failed before returning.
func (s *Service) StartRun(ctx context.Context, startURL string) (*model.Run, error) {
	origin, err := originOf(startURL)
	if err != nil {
		return nil, err
	}

	id, err := idgen.Run()
	if err != nil {
		return nil, err
	}
	run := &model.Run{
		ID:           id,
		TargetOrigin: origin,
		StartURL:     startURL,
		Status:       model.RunRunning,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	node, err := s.captureStartNode(ctx, run)
	if err != nil {
		if _, ferr := s.store.TransitionRun(ctx, run.ID, model.RunRunning, model.RunFailed); ferr != nil {
			slog.Warn("failed to mark run failed", "run_id", run.ID, "error", ferr)
		}
		run.Status = model.RunFailed
		if perr := s.publisher.Publish(ctx, events.TopicRunFailed, events.RunFailed{RunID: run.ID, Error: err.Error()}); perr != nil {
			slog.Warn("failed to publish run failed event", "run_id", run.ID, "error", perr)
		}
		return run, fmt.Errorf("capture start node: %w", err)
	}

	if err := s.publisher.Publish(ctx, events.TopicRunStarted, events.RunStarted{Run: run}); err != nil {
		slog.Warn("failed to publish run started event", "run_id", run.ID, "error", err)
	}

	if err := s.dispatcher.Enqueue(ctx, dispatch.JobCrawlNode, dispatch.CrawlNodeJob{RunID: run.ID, NodeID: node.ID}, 0); err != nil {
		return run, fmt.Errorf("enqueue first crawl job: %w", err)
	}
	if err := s.dispatcher.Enqueue(ctx, dispatch.JobCheckCompletion, dispatch.CheckCompletionJob{RunID: run.ID}, s.checkInterval); err != nil {
		slog.Warn("failed to enqueue first completion check", "run_id", run.ID, "error", err)
	}
	return run, nil
}

// captureStartNode loads the start URL in a fresh session and resolves the
// resulting page to the run's first node.
func (s *Service) captureStartNode(ctx context.Context, run *model.Run) (*model.Node, error) {
	sess, err := s.browser.OpenSession(ctx, run.StartURL, model.StorageSnapshot{})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	page, err := sess.Capture(ctx)
	if err != nil {
		return nil, err
	}
	rememberSecrets(s.memory.For(run.ID), page.Inputs)

	node, _, err := s.worker.resolveNode(ctx, run.ID, page)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// StopRun transitions a running run to stopped. Reports false when the run
// was not running.
func (s *Service) StopRun(ctx context.Context, runID string) (bool, error) {
	stopped, err := s.store.TransitionRun(ctx, runID, model.RunRunning, model.RunStopped)
	if err != nil {
		return false, err
	}
	if stopped {
		if perr := s.publisher.Publish(ctx, events.TopicRunStopped, events.RunStopped{RunID: runID, Reason: "operator request"}); perr != nil {
			slog.Warn("failed to publish run stopped event", "run_id", runID, "error", perr)
		}
	}
	return stopped, nil
}

// RegisterHandlers binds the crawl job types onto a dispatch registry.
// Payload decode failures propagate to the runner's retry and dead-letter
// handling; everything recoverable is handled inside the jobs themselves.
func (s *Service) RegisterHandlers(reg dispatch.Registry) {
	reg.Handle(dispatch.JobCrawlNode, func(ctx context.Context, payload []byte) error {
		var job dispatch.CrawlNodeJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode crawl_node payload: %w", err)
		}
		return s.worker.Crawl(ctx, job.RunID, job.NodeID)
	})

	reg.Handle(dispatch.JobCheckCompletion, func(ctx context.Context, payload []byte) error {
		var job dispatch.CheckCompletionJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode check_completion payload: %w", err)
		}
		done, err := s.detector.CheckCompletion(ctx, job.RunID)
		if done {
			s.memory.Drop(job.RunID)
		}
		return err
	})

	reg.Handle(dispatch.JobReconcilePending, func(ctx context.Context, payload []byte) error {
		var job dispatch.ReconcilePendingJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode reconcile_pending payload: %w", err)
		}
		// Memory changed mid-crawl: previously unanswerable input actions
		// may be fillable now. Re-enqueue every known node; per-signature
		// dedup makes the re-visit cheap where nothing changed.
		nodes, err := s.store.ListNodes(ctx, job.RunID)
		if err != nil {
			return fmt.Errorf("list nodes for reconcile: %w", err)
		}
		for _, n := range nodes {
			if err := s.dispatcher.Enqueue(ctx, dispatch.JobCrawlNode, dispatch.CrawlNodeJob{RunID: job.RunID, NodeID: n.ID}, 0); err != nil {
				slog.Warn("failed to re-enqueue node", "run_id", job.RunID, "node_id", n.ID, "error", err)
			}
		}
		return nil
	})

	reg.Handle(dispatch.JobAnalyzeRun, func(ctx context.Context, payload []byte) error {
		var job dispatch.AnalyzeRunJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode analyze_run payload: %w", err)
		}
		// Analysis is a downstream consumer's job; the hand-off is ours.
		slog.Info("run ready for analysis", "run_id", job.RunID)
		return nil
	})
}

// originOf reduces a URL to its origin (scheme + host).
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid start url %q", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
