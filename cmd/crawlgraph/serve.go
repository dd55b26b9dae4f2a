package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/groblegark/crawlgraph/internal/artifact"
	"github.com/groblegark/crawlgraph/internal/config"
	"github.com/groblegark/crawlgraph/internal/crawl"
	"github.com/groblegark/crawlgraph/internal/dispatch"
	"github.com/groblegark/crawlgraph/internal/events"
	"github.com/groblegark/crawlgraph/internal/gateway"
	"github.com/groblegark/crawlgraph/internal/lock"
	"github.com/groblegark/crawlgraph/internal/server"
	"github.com/groblegark/crawlgraph/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the crawlgraph server: HTTP API plus crawl workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		st, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close()

		// Queue and locks ride the same NATS connection. Without one, the
		// process degrades to in-process dispatch and store-only guarding.
		var (
			dispatcher dispatch.Dispatcher
			registry   dispatch.Registry
			runner     *dispatch.Runner
			locks      lock.Coordinator = lock.Noop{}
			publisher  events.Publisher = &events.NoopPublisher{}
		)
		if cfg.NATSURL != "" {
			nc, err := nats.Connect(cfg.NATSURL, nats.Name("crawlgraph"))
			if err != nil {
				return err
			}
			defer nc.Close()

			hostname, _ := os.Hostname()
			kv, err := lock.New(cmd.Context(), nc, hostname)
			if err != nil {
				logger.Warn("lock bucket unavailable, proceeding unlocked", "error", err)
			} else {
				locks = kv
			}

			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				logger.Warn("event publisher unavailable, events disabled", "error", err)
			} else {
				publisher = pub
				defer pub.Close()
			}

			dispatcher = dispatch.NewNATSDispatcherConn(nc)
			runner = dispatch.NewRunner(nc, cfg.WorkerConcurrency)
			registry = runner
			logger.Info("job queue enabled", "nats_url", cfg.NATSURL, "concurrency", cfg.WorkerConcurrency)
		} else {
			local := dispatch.NewLocal()
			dispatcher = local
			registry = local
			logger.Info("job queue disabled, dispatching in process (CRAWL_NATS_URL not set)")
		}
		defer dispatcher.Close()

		browser := gateway.NewChromeBrowser(cfg.BrowserHeadless, cfg.NetworkIdleWait, cfg.ActionTimeout)

		var filter gateway.ActionFilter
		if cfg.OpenAIAPIKey != "" {
			filter = gateway.NewOpenAIFilter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
			logger.Info("action filter: openai", "model", cfg.OpenAIModel)
		} else {
			filter = gateway.StaticFilter{}
			logger.Info("action filter: static (CRAWL_OPENAI_API_KEY not set)")
		}

		var artifacts artifact.Store
		if cfg.ArtifactS3Bucket != "" {
			s3, err := artifact.NewS3Store(cmd.Context(), cfg.ArtifactS3Bucket, cfg.ArtifactS3Region, cfg.ArtifactS3Endpoint)
			if err != nil {
				return err
			}
			artifacts = s3
			logger.Info("artifacts: s3", "bucket", cfg.ArtifactS3Bucket)
		} else {
			dir, err := artifact.NewDirStore(cfg.ArtifactDir)
			if err != nil {
				return err
			}
			artifacts = dir
			logger.Info("artifacts: local directory", "dir", cfg.ArtifactDir)
		}

		memory := crawl.NewMemoryBank()
		orch := crawl.NewOrchestrator(st, filter)
		worker := crawl.NewWorker(st, locks, browser, filter, artifacts, dispatcher, orch, memory, cfg.NodeLockTTL, cfg.Completion.CheckInterval)
		detector := crawl.NewCompletionDetector(st, dispatcher, publisher, cfg.Completion)
		service := crawl.NewService(st, browser, dispatcher, worker, detector, memory, publisher, cfg.Completion.CheckInterval)
		service.RegisterHandlers(registry)

		runnerCtx, stopRunner := context.WithCancel(context.Background())
		defer stopRunner()
		if runner != nil {
			go func() {
				if err := runner.Run(runnerCtx); err != nil {
					logger.Error("job runner error", "err", err)
				}
			}()
		}

		crawlServer := server.NewCrawlServer(st, service)
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: crawlServer.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		stopRunner()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}
