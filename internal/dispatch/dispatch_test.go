package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// startTestNATS starts an embedded NATS server and returns a connected client.
func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connecting to NATS: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestRunner_RoutesJobsByType(t *testing.T) {
	nc := startTestNATS(t)
	d := NewNATSDispatcherConn(nc)
	r := NewRunner(nc, 2)

	var mu sync.Mutex
	var got []CrawlNodeJob
	received := make(chan struct{}, 10)

	r.Handle(JobCrawlNode, func(_ context.Context, payload []byte) error {
		var job CrawlNodeJob
		if err := json.Unmarshal(payload, &job); err != nil {
			t.Errorf("unmarshaling job: %v", err)
			return err
		}
		mu.Lock()
		got = append(got, job)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Give the subscription a moment to register.
	time.Sleep(100 * time.Millisecond)

	if err := d.Enqueue(ctx, JobCrawlNode, CrawlNodeJob{RunID: "run-1", NodeID: "nd-1"}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	nc.Flush()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job delivery")
	}

	mu.Lock()
	if len(got) != 1 || got[0].NodeID != "nd-1" {
		t.Errorf("got jobs %+v, want one crawl_node for nd-1", got)
	}
	mu.Unlock()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned error: %v", err)
	}
}

func TestNATSDispatcher_DelayedEnqueue(t *testing.T) {
	nc := startTestNATS(t)
	d := NewNATSDispatcherConn(nc)

	sub, err := nc.SubscribeSync(Subject(JobCheckCompletion))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	start := time.Now()
	if err := d.Enqueue(context.Background(), JobCheckCompletion, CheckCompletionJob{RunID: "run-1"}, 150*time.Millisecond); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("waiting for delayed job: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("job delivered after %v, want >= 150ms", elapsed)
	}
	var job CheckCompletionJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	if job.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", job.RunID)
	}
}

func TestNATSDispatcher_CloseCancelsPendingDelays(t *testing.T) {
	nc := startTestNATS(t)
	d := NewNATSDispatcherConn(nc)

	sub, err := nc.SubscribeSync(Subject(JobAnalyzeRun))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	if err := d.Enqueue(context.Background(), JobAnalyzeRun, AnalyzeRunJob{RunID: "run-1"}, 200*time.Millisecond); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := sub.NextMsg(400 * time.Millisecond); err == nil {
		t.Fatal("delayed job delivered after Close")
	}
}

func TestLocal_DeliversToHandler(t *testing.T) {
	l := NewLocal()
	var count atomic.Int64
	l.Handle(JobCrawlNode, func(_ context.Context, payload []byte) error {
		var job CrawlNodeJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return err
		}
		count.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := l.Enqueue(context.Background(), JobCrawlNode, CrawlNodeJob{RunID: "run-1", NodeID: "nd-1"}, 0); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	l.Wait()

	if count.Load() != 5 {
		t.Errorf("handled %d jobs, want 5", count.Load())
	}
}

func TestLocal_UnknownJobType(t *testing.T) {
	l := NewLocal()
	if err := l.Enqueue(context.Background(), "nope", struct{}{}, 0); err == nil {
		t.Fatal("enqueue of unknown job type should error")
	}
}
