package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashprobe/internal/workflow"
)

// DBPool abstracts pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS verification_runs (
            run_id       TEXT PRIMARY KEY,
            target       TEXT NOT NULL,
            passed       BOOLEAN NOT NULL,
            final_state  TEXT NOT NULL,
            reached      TEXT NOT NULL,
            failure_kind TEXT,
            transition   TEXT,
            reason       TEXT,
            selector     TEXT,
            started_at   TIMESTAMPTZ NOT NULL,
            duration_ms  BIGINT NOT NULL
        );
    `
	sqlCreateSteps = `
        CREATE TABLE IF NOT EXISTS verification_steps (
            run_id     TEXT NOT NULL REFERENCES verification_runs(run_id) ON DELETE CASCADE,
            seq        INT NOT NULL,
            transition TEXT NOT NULL,
            status     TEXT NOT NULL,
            attempts   INT NOT NULL,
            elapsed_ms BIGINT NOT NULL,
            PRIMARY KEY (run_id, seq)
        );
    `
	sqlInsertRun = `
        INSERT INTO verification_runs (run_id, target, passed, final_state, reached, failure_kind, transition, reason, selector, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
    `
	sqlInsertStep = `
        INSERT INTO verification_steps (run_id, seq, transition, status, attempts, elapsed_ms)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlRecentRuns = `
        SELECT run_id, target, passed, final_state, COALESCE(failure_kind, ''), COALESCE(reason, ''), started_at, duration_ms
        FROM verification_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

// RunSummary is one row of run history.
type RunSummary struct {
	RunID       string
	Target      string
	Passed      bool
	FinalState  string
	FailureKind string
	Reason      string
	StartedAt   time.Time
	Duration    time.Duration
}

// Store persists verification run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pool for url and wraps it in a Store. The returned cleanup
// closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse database url: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Connected to run history database.", zap.String("host", poolConfig.ConnConfig.Host))
	return s, pool.Close, nil
}

// Migrate creates the history tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateRuns, sqlCreateSteps} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate run history schema: %w", err)
		}
	}
	return nil
}

// SaveRun writes a run and its step trace in one transaction.
func (s *Store) SaveRun(ctx context.Context, r *workflow.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var kind, transition, reason, selector *string
	if f := r.Failure; f != nil {
		k := string(f.Kind)
		kind, transition, reason, selector = &k, &f.Transition, &f.Reason, &f.Selector
	}

	if _, err := tx.Exec(ctx, sqlInsertRun,
		r.RunID, r.Target, r.Passed(), r.State.String(), r.Reached.String(),
		kind, transition, reason, selector,
		r.StartedAt.UTC(), r.Duration().Milliseconds(),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.RunID, err)
	}

	for i, step := range r.Steps {
		if _, err := tx.Exec(ctx, sqlInsertStep,
			r.RunID, i, step.Transition.String(), step.Status.String(), step.Attempts, step.Elapsed.Milliseconds(),
		); err != nil {
			return fmt.Errorf("failed to insert step %d of run %s: %w", i, r.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs         RunSummary
			durationMS int64
		)
		if err := rows.Scan(&rs.RunID, &rs.Target, &rs.Passed, &rs.FinalState, &rs.FailureKind, &rs.Reason, &rs.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run history row: %w", err)
		}
		rs.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	return out, nil
}
