package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sensitivity-cli/internal/db"
	"github.com/sells-group/sensitivity-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var nodeColumns = []string{"id", "run_id", "node", "step", "status", "keys", "duration_ms", "error", "started_at"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	table_name TEXT NOT NULL,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	attempts   INTEGER NOT NULL DEFAULT 0,
	state      JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS node_executions (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	node        TEXT NOT NULL,
	step        INTEGER NOT NULL,
	status      TEXT NOT NULL,
	keys        TEXT[] NOT NULL DEFAULT '{}',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_table_name ON runs(table_name);
CREATE INDEX IF NOT EXISTS idx_node_executions_run_id ON node_executions(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, tableName, query string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, table_name, query, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, tableName, query, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		TableName: tableName,
		Query:     query,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// FinishRun updates the run row and bulk-copies its node executions.
func (s *PostgresStore) FinishRun(ctx context.Context, runID string, out RunOutcome) error {
	var state []byte
	if len(out.State) > 0 {
		state = out.State
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, attempts = $2, state = $3, error = $4, updated_at = $5 WHERE id = $6`,
		string(out.Status), out.Attempts, state, out.Error, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}

	rows := make([][]any, 0, len(out.Nodes))
	for _, n := range out.Nodes {
		id := n.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, runID, n.Node, n.Step, string(n.Status), orEmpty(n.Keys), n.DurationMs, n.Error, n.StartedAt.UTC(),
		})
	}
	if _, err := db.CopyRows(ctx, s.pool, "node_executions", nodeColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: record nodes for run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, table_name, query, status, attempts, state, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.TableName, &r.Query, &r.Status, &r.Attempts, &state, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if len(state) > 0 {
		r.State = state
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, node, step, status, keys, duration_ms, error, started_at FROM node_executions WHERE run_id = $1 ORDER BY step, started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list nodes for run %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var n model.NodeExecution
		if err := rows.Scan(&n.ID, &n.RunID, &n.Node, &n.Step, &n.Status, &n.Keys, &n.DurationMs, &n.Error, &n.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan node execution")
		}
		r.Nodes = append(r.Nodes, n)
	}
	return &r, eris.Wrap(rows.Err(), "postgres: list nodes iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, table_name, query, status, attempts, state, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.TableName != "" {
		query += fmt.Sprintf(` AND table_name = $%d`, argIdx)
		args = append(args, filter.TableName)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var state []byte
		if err := rows.Scan(&r.ID, &r.TableName, &r.Query, &r.Status, &r.Attempts, &state, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(state) > 0 {
			r.State = state
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
