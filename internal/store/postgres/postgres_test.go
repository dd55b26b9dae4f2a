package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// nodeRowColumns is the column list for scanNode results.
var nodeRowColumns = []string{
	"id", "run_id", "url", "url_normalized", "a11y_hash", "state_hash",
	"content_hash", "input_hash", "route_depth", "modal_depth", "interaction_depth",
	"dom_key", "css_key", "screenshot_key", "snapshot_key", "created_at",
}

// edgeRowColumns is the column list for scanEdge results.
var edgeRowColumns = []string{
	"id", "run_id", "from_node_id", "to_node_id", "action_type",
	"action_target", "action_value", "action_selector", "action_role", "action_name",
	"action_tag", "action_href", "outcome", "latency_ms", "error", "class", "intent", "created_at",
}

// addNodeRow adds a minimal node row to a sqlmock.Rows.
func addNodeRow(rows *sqlmock.Rows, id, runID, urlNorm string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, runID, urlNorm, urlNorm, "a11y-h", "state-h",
		nil, nil, 0, 0, 0,
		nil, nil, nil, nil, now,
	)
}

func TestFindNode_InputTierWins(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	// Only the input-hash query runs; the a11y tier is never consulted.
	mock.ExpectQuery(`SELECT .+ FROM nodes\s+WHERE run_id = \$1 AND url_normalized = \$2 AND state_hash = \$3 AND input_hash = \$4`).
		WithArgs("run-1", "https://x.test/login", "state-h", "input-h").
		WillReturnRows(addNodeRow(sqlmock.NewRows(nodeRowColumns), "nd-1", "run-1", "https://x.test/login", now))

	n, err := queryFindNode(context.Background(), db, "run-1", "https://x.test/login", "different-a11y", "state-h", "input-h")
	if err != nil {
		t.Fatalf("queryFindNode error: %v", err)
	}
	if n == nil || n.ID != "nd-1" {
		t.Fatalf("queryFindNode = %+v, want nd-1", n)
	}
}

func TestFindNode_FallsBackToHashTriple(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectQuery(`input_hash = \$4`).
		WithArgs("run-1", "https://x.test/a", "state-h", "input-h").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`a11y_hash = \$3 AND state_hash = \$4`).
		WithArgs("run-1", "https://x.test/a", "a11y-h", "state-h").
		WillReturnRows(addNodeRow(sqlmock.NewRows(nodeRowColumns), "nd-2", "run-1", "https://x.test/a", now))

	n, err := queryFindNode(context.Background(), db, "run-1", "https://x.test/a", "a11y-h", "state-h", "input-h")
	if err != nil {
		t.Fatalf("queryFindNode error: %v", err)
	}
	if n == nil || n.ID != "nd-2" {
		t.Fatalf("queryFindNode = %+v, want nd-2", n)
	}
}

func TestFindNode_NotFoundIsNil(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`a11y_hash = \$3`).
		WithArgs("run-1", "https://x.test/a", "a11y-h", "state-h").
		WillReturnError(sql.ErrNoRows)

	n, err := queryFindNode(context.Background(), db, "run-1", "https://x.test/a", "a11y-h", "state-h", "")
	if err != nil {
		t.Fatalf("queryFindNode error: %v", err)
	}
	if n != nil {
		t.Fatalf("queryFindNode = %+v, want nil", n)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE id = \$1`).
		WithArgs("run-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := queryGetRun(context.Background(), db, "run-missing")
	if err != store.ErrNotFound {
		t.Fatalf("queryGetRun error = %v, want store.ErrNotFound", err)
	}
}

func TestTransitionRun(t *testing.T) {
	for _, tc := range []struct {
		name     string
		affected int64
		want     bool
	}{
		{"transitioned", 1, true},
		{"already moved", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(`UPDATE runs SET status = \$1`).
				WithArgs("completed", sqlmock.AnyArg(), "run-1", "running").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			ok, err := queryTransitionRun(context.Background(), db, "run-1", model.RunRunning, model.RunCompleted)
			if err != nil {
				t.Fatalf("queryTransitionRun error: %v", err)
			}
			if ok != tc.want {
				t.Errorf("queryTransitionRun = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestCountFailedEdges(t *testing.T) {
	db, mock := newMockDB(t)
	a := model.Action{Type: model.ActionClick, Selector: "#submit"}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM edges`).
		WithArgs("run-1", "nd-1", "click", "#submit", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := queryCountFailedEdges(context.Background(), db, "run-1", "nd-1", a)
	if err != nil {
		t.Fatalf("queryCountFailedEdges error: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestFindEdge_OutcomeFilter(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	a := model.Action{Type: model.ActionClick, Role: "button", Name: "Submit"}
	success := model.OutcomeSuccess

	mock.ExpectQuery(`AND outcome = \$6`).
		WithArgs("run-1", "nd-1", "click", "button|Submit", "", "success").
		WillReturnRows(sqlmock.NewRows(edgeRowColumns).AddRow(
			"ed-1", "run-1", "nd-1", "nd-2", "click",
			"button|Submit", "", nil, "button", "Submit",
			nil, nil, "success", int64(120), nil, "new_page", nil, now,
		))

	e, err := queryFindEdge(context.Background(), db, "run-1", "nd-1", a, &success)
	if err != nil {
		t.Fatalf("queryFindEdge error: %v", err)
	}
	if e == nil || e.ID != "ed-1" {
		t.Fatalf("queryFindEdge = %+v, want ed-1", e)
	}
	if e.Action.Target() != "button|Submit" {
		t.Errorf("rebuilt target = %q, want button|Submit", e.Action.Target())
	}
	if e.Class != model.TransitionNewPage {
		t.Errorf("class = %q, want new_page", e.Class)
	}
}

func TestCreateEdge(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	e := &model.Edge{
		ID:         "ed-9",
		RunID:      "run-1",
		FromNodeID: "nd-1",
		ToNodeID:   "nd-2",
		Action:     model.Action{Type: model.ActionClick, Selector: "#go"},
		Outcome:    model.OutcomeSuccess,
		LatencyMS:  80,
		Class:      model.TransitionNewPage,
		CreatedAt:  now,
	}

	mock.ExpectExec(`INSERT INTO edges`).
		WithArgs(
			"ed-9", "run-1", "nd-1", "nd-2", "click",
			"#go", "", "#go", nil, nil,
			nil, nil, "success", int64(80), nil, "new_page", nil, now,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateEdge(context.Background(), db, e); err != nil {
		t.Fatalf("queryCreateEdge error: %v", err)
	}
}

func TestCountRecentSuccessEdges(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`created_at > \$2`).
		WithArgs("run-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := queryCountRecentSuccessEdges(context.Background(), db, "run-1", 90*time.Second)
	if err != nil {
		t.Fatalf("queryCountRecentSuccessEdges error: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
}
