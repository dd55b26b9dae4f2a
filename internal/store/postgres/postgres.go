// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/groblegark/crawlgraph/internal/model"
	"github.com/groblegark/crawlgraph/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	return queryCreateRun(ctx, s.db, run)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return queryGetRun(ctx, s.db, id)
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]*model.Run, error) {
	return queryListRuns(ctx, s.db)
}

func (s *PostgresStore) TransitionRun(ctx context.Context, id string, from, to model.RunStatus) (bool, error) {
	return queryTransitionRun(ctx, s.db, id, from, to)
}

func (s *PostgresStore) FindNode(ctx context.Context, runID, urlNorm, a11yHash, stateHash, inputHash string) (*model.Node, error) {
	return queryFindNode(ctx, s.db, runID, urlNorm, a11yHash, stateHash, inputHash)
}

func (s *PostgresStore) CreateNode(ctx context.Context, node *model.Node) error {
	return queryCreateNode(ctx, s.db, node)
}

func (s *PostgresStore) GetNode(ctx context.Context, id string) (*model.Node, error) {
	return queryGetNode(ctx, s.db, id)
}

func (s *PostgresStore) ListNodes(ctx context.Context, runID string) ([]*model.Node, error) {
	return queryListNodes(ctx, s.db, runID)
}

func (s *PostgresStore) UpdateNodeDepths(ctx context.Context, id string, depths model.NodeDepths) error {
	return queryUpdateNodeDepths(ctx, s.db, id, depths)
}

func (s *PostgresStore) FindEdge(ctx context.Context, runID, fromNodeID string, action model.Action, outcome *model.Outcome) (*model.Edge, error) {
	return queryFindEdge(ctx, s.db, runID, fromNodeID, action, outcome)
}

func (s *PostgresStore) CountFailedEdges(ctx context.Context, runID, fromNodeID string, action model.Action) (int, error) {
	return queryCountFailedEdges(ctx, s.db, runID, fromNodeID, action)
}

func (s *PostgresStore) FindEdgeByNodePair(ctx context.Context, runID, fromNodeID, toNodeID string) (*model.Edge, error) {
	return queryFindEdgeByNodePair(ctx, s.db, runID, fromNodeID, toNodeID)
}

func (s *PostgresStore) CreateEdge(ctx context.Context, edge *model.Edge) error {
	return queryCreateEdge(ctx, s.db, edge)
}

func (s *PostgresStore) DeleteEdge(ctx context.Context, id string) error {
	return queryDeleteEdge(ctx, s.db, id)
}

func (s *PostgresStore) ListEdges(ctx context.Context, runID string) ([]*model.Edge, error) {
	return queryListEdges(ctx, s.db, runID)
}

func (s *PostgresStore) CountSuccessEdges(ctx context.Context, runID string) (int, error) {
	return queryCountSuccessEdges(ctx, s.db, runID)
}

func (s *PostgresStore) CountRecentSuccessEdges(ctx context.Context, runID string, window time.Duration) (int, error) {
	return queryCountRecentSuccessEdges(ctx, s.db, runID, window)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateRun(ctx context.Context, run *model.Run) error {
	return queryCreateRun(ctx, s.tx, run)
}

func (s *txStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return queryGetRun(ctx, s.tx, id)
}

func (s *txStore) ListRuns(ctx context.Context) ([]*model.Run, error) {
	return queryListRuns(ctx, s.tx)
}

func (s *txStore) TransitionRun(ctx context.Context, id string, from, to model.RunStatus) (bool, error) {
	return queryTransitionRun(ctx, s.tx, id, from, to)
}

func (s *txStore) FindNode(ctx context.Context, runID, urlNorm, a11yHash, stateHash, inputHash string) (*model.Node, error) {
	return queryFindNode(ctx, s.tx, runID, urlNorm, a11yHash, stateHash, inputHash)
}

func (s *txStore) CreateNode(ctx context.Context, node *model.Node) error {
	return queryCreateNode(ctx, s.tx, node)
}

func (s *txStore) GetNode(ctx context.Context, id string) (*model.Node, error) {
	return queryGetNode(ctx, s.tx, id)
}

func (s *txStore) ListNodes(ctx context.Context, runID string) ([]*model.Node, error) {
	return queryListNodes(ctx, s.tx, runID)
}

func (s *txStore) UpdateNodeDepths(ctx context.Context, id string, depths model.NodeDepths) error {
	return queryUpdateNodeDepths(ctx, s.tx, id, depths)
}

func (s *txStore) FindEdge(ctx context.Context, runID, fromNodeID string, action model.Action, outcome *model.Outcome) (*model.Edge, error) {
	return queryFindEdge(ctx, s.tx, runID, fromNodeID, action, outcome)
}

func (s *txStore) CountFailedEdges(ctx context.Context, runID, fromNodeID string, action model.Action) (int, error) {
	return queryCountFailedEdges(ctx, s.tx, runID, fromNodeID, action)
}

func (s *txStore) FindEdgeByNodePair(ctx context.Context, runID, fromNodeID, toNodeID string) (*model.Edge, error) {
	return queryFindEdgeByNodePair(ctx, s.tx, runID, fromNodeID, toNodeID)
}

func (s *txStore) CreateEdge(ctx context.Context, edge *model.Edge) error {
	return queryCreateEdge(ctx, s.tx, edge)
}

func (s *txStore) DeleteEdge(ctx context.Context, id string) error {
	return queryDeleteEdge(ctx, s.tx, id)
}

func (s *txStore) ListEdges(ctx context.Context, runID string) ([]*model.Edge, error) {
	return queryListEdges(ctx, s.tx, runID)
}

func (s *txStore) CountSuccessEdges(ctx context.Context, runID string) (int, error) {
	return queryCountSuccessEdges(ctx, s.tx, runID)
}

func (s *txStore) CountRecentSuccessEdges(ctx context.Context, runID string, window time.Duration) (int, error) {
	return queryCountRecentSuccessEdges(ctx, s.tx, runID, window)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
