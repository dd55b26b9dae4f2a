package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/groblegark/crawlgraph/internal/model"
)

// runColumns is the column list used for SELECT statements on the runs table.
const runColumns = `id, target_origin, start_url, status, created_at, completed_at`

// nodeColumns is the column list used for SELECT statements on the nodes table.
const nodeColumns = `id, run_id, url, url_normalized, a11y_hash, state_hash,
	content_hash, input_hash, route_depth, modal_depth, interaction_depth,
	dom_key, css_key, screenshot_key, snapshot_key, created_at`

// edgeColumns is the column list used for SELECT statements on the edges table.
const edgeColumns = `id, run_id, from_node_id, to_node_id, action_type,
	action_target, action_value, action_selector, action_role, action_name,
	action_tag, action_href, outcome, latency_ms, error, class, intent, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateRun(ctx context.Context, db executor, r *model.Run) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (id, target_origin, start_url, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID,
		r.TargetOrigin,
		r.StartURL,
		string(r.Status),
		r.CreatedAt,
		nullTimePtr(r.CompletedAt),
	)
	return err
}

func queryGetRun(ctx context.Context, db executor, id string) (*model.Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

func queryListRuns(ctx context.Context, db executor) ([]*model.Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func queryTransitionRun(ctx context.Context, db executor, id string, from, to model.RunStatus) (bool, error) {
	var completedAt any
	if to == model.RunCompleted {
		completedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE runs SET status = $1, completed_at = COALESCE($2, completed_at)
		WHERE id = $3 AND status = $4`,
		string(to), completedAt, id, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// queryFindNode implements the two-tier identity lookup. The input-state
// tier runs first so that a node reached with a perturbed a11y tree (form
// validation noise) still resolves to the existing node.
func queryFindNode(ctx context.Context, db executor, runID, urlNorm, a11yHash, stateHash, inputHash string) (*model.Node, error) {
	if inputHash != "" {
		row := db.QueryRowContext(ctx, `
			SELECT `+nodeColumns+` FROM nodes
			WHERE run_id = $1 AND url_normalized = $2 AND state_hash = $3 AND input_hash = $4
			ORDER BY created_at ASC LIMIT 1`,
			runID, urlNorm, stateHash, inputHash,
		)
		n, err := scanNode(row)
		if err == nil {
			return n, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}

	row := db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE run_id = $1 AND url_normalized = $2 AND a11y_hash = $3 AND state_hash = $4
		LIMIT 1`,
		runID, urlNorm, a11yHash, stateHash,
	)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func queryCreateNode(ctx context.Context, db executor, n *model.Node) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO nodes (
			id, run_id, url, url_normalized, a11y_hash, state_hash,
			content_hash, input_hash, route_depth, modal_depth, interaction_depth,
			dom_key, css_key, screenshot_key, snapshot_key, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		n.ID,
		n.RunID,
		n.URL,
		n.URLNormalized,
		n.A11yHash,
		n.StateHash,
		nullString(n.ContentHash),
		nullString(n.InputHash),
		n.RouteDepth,
		n.ModalDepth,
		n.InteractionDepth,
		nullString(n.DOMKey),
		nullString(n.CSSKey),
		nullString(n.ScreenshotKey),
		nullString(n.SnapshotKey),
		n.CreatedAt,
	)
	return err
}

func queryGetNode(ctx context.Context, db executor, id string) (*model.Node, error) {
	row := db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, errNotFound(err)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func queryListNodes(ctx context.Context, db executor, runID string) ([]*model.Node, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func queryUpdateNodeDepths(ctx context.Context, db executor, id string, d model.NodeDepths) error {
	_, err := db.ExecContext(ctx, `
		UPDATE nodes SET route_depth = $1, modal_depth = $2, interaction_depth = $3
		WHERE id = $4`,
		d.Route, d.Modal, d.Interaction, id,
	)
	return err
}

func queryFindEdge(ctx context.Context, db executor, runID, fromNodeID string, a model.Action, outcome *model.Outcome) (*model.Edge, error) {
	q := `SELECT ` + edgeColumns + ` FROM edges
		WHERE run_id = $1 AND from_node_id = $2
		  AND action_type = $3 AND action_target = $4 AND action_value = $5`
	args := []any{runID, fromNodeID, string(a.Type), a.Target(), a.Value}
	if outcome != nil {
		q += ` AND outcome = $6`
		args = append(args, string(*outcome))
	}
	q += ` ORDER BY created_at DESC LIMIT 1`

	row := db.QueryRowContext(ctx, q, args...)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func queryCountFailedEdges(ctx context.Context, db executor, runID, fromNodeID string, a model.Action) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges
		WHERE run_id = $1 AND from_node_id = $2
		  AND action_type = $3 AND action_target = $4 AND action_value = $5
		  AND outcome = 'fail'`,
		runID, fromNodeID, string(a.Type), a.Target(), a.Value,
	).Scan(&count)
	return count, err
}

func queryFindEdgeByNodePair(ctx context.Context, db executor, runID, fromNodeID, toNodeID string) (*model.Edge, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE run_id = $1 AND from_node_id = $2 AND to_node_id = $3 AND outcome = 'success'
		ORDER BY created_at DESC LIMIT 1`,
		runID, fromNodeID, toNodeID,
	)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func queryCreateEdge(ctx context.Context, db executor, e *model.Edge) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO edges (
			id, run_id, from_node_id, to_node_id, action_type,
			action_target, action_value, action_selector, action_role, action_name,
			action_tag, action_href, outcome, latency_ms, error, class, intent, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18
		)`,
		e.ID,
		e.RunID,
		e.FromNodeID,
		nullString(e.ToNodeID),
		string(e.Action.Type),
		e.Action.Target(),
		e.Action.Value,
		nullString(e.Action.Selector),
		nullString(e.Action.Role),
		nullString(e.Action.Name),
		nullString(e.Action.Tag),
		nullString(e.Action.Href),
		string(e.Outcome),
		e.LatencyMS,
		nullString(e.Error),
		nullString(string(e.Class)),
		nullString(e.Intent),
		e.CreatedAt,
	)
	return err
}

func queryDeleteEdge(ctx context.Context, db executor, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM edges WHERE id = $1`, id)
	return err
}

func queryListEdges(ctx context.Context, db executor, runID string) ([]*model.Edge, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+edgeColumns+` FROM edges WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func queryCountSuccessEdges(ctx context.Context, db executor, runID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges WHERE run_id = $1 AND outcome = 'success'`, runID).Scan(&count)
	return count, err
}

func queryCountRecentSuccessEdges(ctx context.Context, db executor, runID string, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges
		WHERE run_id = $1 AND outcome = 'success' AND created_at > $2`,
		runID, cutoff,
	).Scan(&count)
	return count, err
}
