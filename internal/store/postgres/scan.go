package postgres

import (
	"database/sql"
	"time"

	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRun scans a single row into a model.Run.
// The row must contain columns in the order defined by runColumns.
func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var completedAt sql.NullTime

	err := row.Scan(
		&r.ID,
		&r.TargetOrigin,
		&r.StartURL,
		&r.Status,
		&r.CreatedAt,
		&completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

// scanNode scans a single row into a model.Node.
// The row must contain columns in the order defined by nodeColumns.
func scanNode(row scannable) (*model.Node, error) {
	var n model.Node
	var (
		contentHash   sql.NullString
		inputHash     sql.NullString
		domKey        sql.NullString
		cssKey        sql.NullString
		screenshotKey sql.NullString
		snapshotKey   sql.NullString
	)

	err := row.Scan(
		&n.ID,
		&n.RunID,
		&n.URL,
		&n.URLNormalized,
		&n.A11yHash,
		&n.StateHash,
		&contentHash,
		&inputHash,
		&n.RouteDepth,
		&n.ModalDepth,
		&n.InteractionDepth,
		&domKey,
		&cssKey,
		&screenshotKey,
		&snapshotKey,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.ContentHash = contentHash.String
	n.InputHash = inputHash.String
	n.DOMKey = domKey.String
	n.CSSKey = cssKey.String
	n.ScreenshotKey = screenshotKey.String
	n.SnapshotKey = snapshotKey.String
	return &n, nil
}

// scanEdge scans a single row into a model.Edge.
// The row must contain columns in the order defined by edgeColumns.
func scanEdge(row scannable) (*model.Edge, error) {
	var e model.Edge
	var (
		toNodeID sql.NullString
		target   string
		selector sql.NullString
		role     sql.NullString
		name     sql.NullString
		tag      sql.NullString
		href     sql.NullString
		errMsg   sql.NullString
		class    sql.NullString
		intent   sql.NullString
	)

	err := row.Scan(
		&e.ID,
		&e.RunID,
		&e.FromNodeID,
		&toNodeID,
		&e.Action.Type,
		&target,
		&e.Action.Value,
		&selector,
		&role,
		&name,
		&tag,
		&href,
		&e.Outcome,
		&e.LatencyMS,
		&errMsg,
		&class,
		&intent,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// action_target is derived from the other action columns; the scan
	// discards it and rebuilds the target from its parts.
	_ = target

	e.ToNodeID = toNodeID.String
	e.Action.Selector = selector.String
	e.Action.Role = role.String
	e.Action.Name = name.String
	e.Action.Tag = tag.String
	e.Action.Href = href.String
	e.Error = errMsg.String
	e.Class = model.TransitionClass(class.String)
	e.Intent = intent.String
	return &e, nil
}

// errNotFound translates sql.ErrNoRows into the store sentinel.
func errNotFound(err error) error {
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	return err
}

// nullString converts an empty string to a NULL-able value.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTimePtr converts a nil *time.Time to a NULL-able value.
func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
