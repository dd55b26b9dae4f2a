package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/groblegark/crawlgraph/internal/gateway"
	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/store"
)

// fakeStore is an in-memory store.Store that enforces the same uniqueness
// rules as the SQL schema: node identity per run and at most one successful
// edge per signature.
type fakeStore struct {
	mu    sync.Mutex
	runs  map[string]*model.Run
	nodes []*model.Node
	edges []*model.Edge
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[string]*model.Run)}
}

func (s *fakeStore) CreateRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, id string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *fakeStore) ListRuns(_ context.Context) ([]*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) TransitionRun(_ context.Context, id string, from, to model.RunStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if run.Status != from {
		return false, nil
	}
	run.Status = to
	if to == model.RunCompleted {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	return true, nil
}

func (s *fakeStore) FindNode(_ context.Context, runID, urlNorm, a11yHash, stateHash, inputHash string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inputHash != "" {
		for _, n := range s.nodes {
			if n.RunID == runID && n.URLNormalized == urlNorm && n.StateHash == stateHash && n.InputHash == inputHash {
				cp := *n
				return &cp, nil
			}
		}
	}
	for _, n := range s.nodes {
		if n.RunID == runID && n.URLNormalized == urlNorm && n.A11yHash == a11yHash && n.StateHash == stateHash {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateNode(_ context.Context, node *model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.RunID == node.RunID && n.URLNormalized == node.URLNormalized && n.A11yHash == node.A11yHash && n.StateHash == node.StateHash {
			return fmt.Errorf("duplicate node identity")
		}
	}
	cp := *node
	s.nodes = append(s.nodes, &cp)
	return nil
}

func (s *fakeStore) GetNode(_ context.Context, id string) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == id {
			cp := *n
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) ListNodes(_ context.Context, runID string) ([]*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Node
	for _, n := range s.nodes {
		if n.RunID == runID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateNodeDepths(_ context.Context, id string, depths model.NodeDepths) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == id {
			n.RouteDepth = depths.Route
			n.ModalDepth = depths.Modal
			n.InteractionDepth = depths.Interaction
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) FindEdge(_ context.Context, runID, fromNodeID string, action model.Action, outcome *model.Outcome) (*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := action.Signature(fromNodeID)
	for i := len(s.edges) - 1; i >= 0; i-- {
		e := s.edges[i]
		if e.RunID != runID || e.Signature() != sig {
			continue
		}
		if outcome != nil && e.Outcome != *outcome {
			continue
		}
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) CountFailedEdges(_ context.Context, runID, fromNodeID string, action model.Action) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := action.Signature(fromNodeID)
	count := 0
	for _, e := range s.edges {
		if e.RunID == runID && e.Signature() == sig && e.Outcome == model.OutcomeFail {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) FindEdgeByNodePair(_ context.Context, runID, fromNodeID, toNodeID string) (*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.edges) - 1; i >= 0; i-- {
		e := s.edges[i]
		if e.RunID == runID && e.FromNodeID == fromNodeID && e.ToNodeID == toNodeID && e.Outcome == model.OutcomeSuccess {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateEdge(_ context.Context, edge *model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if edge.Outcome == model.OutcomeSuccess {
		sig := edge.Signature()
		for _, e := range s.edges {
			if e.RunID == edge.RunID && e.Outcome == model.OutcomeSuccess && e.Signature() == sig {
				return fmt.Errorf("duplicate successful edge for signature")
			}
		}
	}
	cp := *edge
	s.edges = append(s.edges, &cp)
	return nil
}

func (s *fakeStore) DeleteEdge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.edges {
		if e.ID == id {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) ListEdges(_ context.Context, runID string) ([]*model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Edge
	for _, e := range s.edges {
		if e.RunID == runID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CountSuccessEdges(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.edges {
		if e.RunID == runID && e.Outcome == model.OutcomeSuccess {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) CountRecentSuccessEdges(_ context.Context, runID string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-window)
	count := 0
	for _, e := range s.edges {
		if e.RunID == runID && e.Outcome == model.OutcomeSuccess && e.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *fakeStore) Close() error { return nil }

// edgeCount reports the total number of stored edges.
func (s *fakeStore) edgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}

// denyLocks refuses every acquisition, simulating contention.
type denyLocks struct{}

func (denyLocks) TryAcquire(context.Context, string, time.Duration) bool { return false }
func (denyLocks) Release(context.Context, string)                        {}

// recDispatcher records every enqueue.
type recDispatcher struct {
	mu   sync.Mutex
	jobs []recordedJob
}

type recordedJob struct {
	jobType string
	payload any
	delay   time.Duration
}

func (d *recDispatcher) Enqueue(_ context.Context, jobType string, payload any, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, recordedJob{jobType: jobType, payload: payload, delay: delay})
	return nil
}

func (d *recDispatcher) Close() error { return nil }

func (d *recDispatcher) ofType(jobType string) []recordedJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []recordedJob
	for _, j := range d.jobs {
		if j.jobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

// memArtifacts is an in-memory artifact.Store.
type memArtifacts struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{blobs: make(map[string][]byte)}
}

func (m *memArtifacts) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

func (m *memArtifacts) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("no artifact %s", key)
	}
	return data, nil
}

// scripted maps an action target to its outcome and, on success, the URL
// the page lands on afterward.
type scripted struct {
	result  gateway.ActionResult
	nextURL string
}

// fakeBrowser hands out fakeSessions over a scripted site: pages and
// actions keyed by URL, action outcomes keyed by action target.
type fakeBrowser struct {
	mu       sync.Mutex
	pages    map[string]*model.PageState
	actions  map[string][]model.Action
	script   map[string]scripted
	openErr  error
	sessions []*fakeSession
}

var _ gateway.Browser = (*fakeBrowser)(nil)

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages:   make(map[string]*model.PageState),
		actions: make(map[string][]model.Action),
		script:  make(map[string]scripted),
	}
}

func (b *fakeBrowser) addPage(url string, page *model.PageState, actions ...model.Action) {
	page.URL = url
	b.pages[url] = page
	b.actions[url] = actions
}

func (b *fakeBrowser) OpenSession(_ context.Context, url string, _ model.StorageSnapshot) (gateway.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	sess := &fakeSession{browser: b, current: url}
	b.sessions = append(b.sessions, sess)
	return sess, nil
}

type fakeSession struct {
	browser   *fakeBrowser
	current   string
	performed []model.Action
	hydrated  [][]model.InputState
	closed    bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.current = url
	return nil
}

func (s *fakeSession) CurrentURL(context.Context) (string, error) {
	return s.current, nil
}

func (s *fakeSession) Capture(context.Context) (*model.PageState, error) {
	page, ok := s.browser.pages[s.current]
	if !ok {
		return nil, fmt.Errorf("no page scripted at %s", s.current)
	}
	cp := *page
	return &cp, nil
}

func (s *fakeSession) ExtractActions(context.Context) ([]model.Action, error) {
	return s.browser.actions[s.current], nil
}

func (s *fakeSession) Hydrate(_ context.Context, inputs []model.InputState) error {
	s.hydrated = append(s.hydrated, inputs)
	return nil
}

func (s *fakeSession) Perform(_ context.Context, action model.Action) (gateway.ActionResult, error) {
	s.performed = append(s.performed, action)
	sc, ok := s.browser.script[action.Target()]
	if !ok {
		return gateway.ActionResult{Outcome: model.OutcomeFail, Error: "element not found"}, nil
	}
	if sc.result.Outcome == model.OutcomeSuccess && sc.nextURL != "" {
		s.current = sc.nextURL
	}
	return sc.result, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeFilter answers input actions from memory by exact name match and
// labels every edge with a fixed intent.
type fakeFilter struct {
	changed bool // reported by UpdateMemory
	intent  string
}

var _ gateway.ActionFilter = (*fakeFilter)(nil)

func (f *fakeFilter) FilterFillable(_ context.Context, actions []model.Action, mem *model.RunMemory) ([]model.Action, error) {
	var out []model.Action
	for _, a := range actions {
		if v, ok := mem.Fact(a.Name); ok {
			a.Value = v
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeFilter) UpdateMemory(_ context.Context, _ *model.RunMemory, _ *model.PageState) (bool, error) {
	return f.changed, nil
}

func (f *fakeFilter) LabelIntent(_ context.Context, _, _ *model.Node, _ *model.Edge) (string, error) {
	if f.intent == "" {
		return "", fmt.Errorf("no intent configured")
	}
	return f.intent, nil
}
