package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Local is an in-process Dispatcher for single-process deployments and
// tests: jobs are handed straight to registered handlers on their own
// goroutines. It provides the same at-least-once, unordered semantics the
// core is written against.
type Local struct {
	mu       sync.Mutex
	handlers map[string]Handler
	wg       sync.WaitGroup
	closed   bool
}

var _ Dispatcher = (*Local)(nil)

// NewLocal creates an empty in-process dispatcher.
func NewLocal() *Local {
	return &Local{handlers: make(map[string]Handler)}
}

// Handle registers the handler for a job type.
func (l *Local) Handle(jobType string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[jobType] = h
}

func (l *Local) Enqueue(_ context.Context, jobType string, payload any, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("dispatcher closed")
	}
	h, ok := l.handlers[jobType]
	l.wg.Add(1)
	l.mu.Unlock()

	if !ok {
		l.wg.Done()
		return fmt.Errorf("no handler for job type %q", jobType)
	}

	go func() {
		defer l.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}
		if err := h(context.Background(), data); err != nil {
			slog.Error("job handler failed", "job_type", jobType, "error", err)
		}
	}()
	return nil
}

// Wait blocks until all enqueued jobs have finished. Test helper.
func (l *Local) Wait() {
	l.wg.Wait()
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
