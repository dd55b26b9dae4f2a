package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// NATSDispatcher publishes jobs to NATS subjects.
type NATSDispatcher struct {
	conn *nats.Conn

	mu     sync.Mutex
	timers []*time.Timer
	closed bool
}

var _ Dispatcher = (*NATSDispatcher)(nil)

// NewNATSDispatcher connects to NATS with automatic reconnection support.
func NewNATSDispatcher(url string) (*NATSDispatcher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSDispatcher{conn: nc}, nil
}

// NewNATSDispatcherConn wraps an existing connection. The caller keeps
// ownership of the connection; Close only cancels pending delayed jobs.
func NewNATSDispatcherConn(nc *nats.Conn) *NATSDispatcher {
	return &NATSDispatcher{conn: nc}
}

func (d *NATSDispatcher) Enqueue(ctx context.Context, jobType string, payload any, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}

	if delay <= 0 {
		return d.conn.Publish(Subject(jobType), data)
	}

	// NATS core has no delayed delivery; the delay runs client-side. A
	// crash drops the pending job, which the completion heuristic's
	// long-window safety net tolerates.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher closed")
	}
	timer := time.AfterFunc(delay, func() {
		if err := d.conn.Publish(Subject(jobType), data); err != nil {
			slog.Warn("failed to publish delayed job", "job_type", jobType, "error", err)
		}
	})
	d.timers = append(d.timers, timer)
	return nil
}

func (d *NATSDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
	d.mu.Unlock()
	return nil
}

// Runner consumes jobs from NATS with a pool of handler goroutines. Workers
// across processes compete in one queue group, so each job is delivered to
// one worker.
type Runner struct {
	conn        *nats.Conn
	concurrency int

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewRunner creates a Runner on an existing connection.
func NewRunner(nc *nats.Conn, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		conn:        nc,
		concurrency: concurrency,
		handlers:    make(map[string]Handler),
	}
}

// Handle registers the handler for a job type. Must be called before Run.
func (r *Runner) Handle(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Run subscribes to all job subjects and processes deliveries until ctx is
// canceled. It returns the first handler-pool error, or nil on clean
// shutdown.
func (r *Runner) Run(ctx context.Context) error {
	ch := make(chan *nats.Msg, 64)
	sub, err := r.conn.ChanQueueSubscribe(SubjectPrefix+">", Queue, ch)
	if err != nil {
		return fmt.Errorf("subscribing to job subjects: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-ch:
					r.process(ctx, msg)
				}
			}
		})
	}
	return g.Wait()
}

func (r *Runner) process(ctx context.Context, msg *nats.Msg) {
	jobType := strings.TrimPrefix(msg.Subject, SubjectPrefix)

	r.mu.Lock()
	h, ok := r.handlers[jobType]
	r.mu.Unlock()
	if !ok {
		slog.Warn("no handler for job type", "job_type", jobType)
		return
	}

	if err := h(ctx, msg.Data); err != nil {
		slog.Error("job handler failed", "job_type", jobType, "error", err)
	}
}
