package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sensitivity-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	attempts   INTEGER NOT NULL DEFAULT 0,
	state      TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS node_executions (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	node        TEXT NOT NULL,
	step        INTEGER NOT NULL,
	status      TEXT NOT NULL,
	keys        TEXT NOT NULL DEFAULT '[]',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_table_name ON runs(table_name);
CREATE INDEX IF NOT EXISTS idx_node_executions_run_id ON node_executions(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, tableName, query string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, table_name, query, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, tableName, query, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, out RunOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin finish run")
	}
	defer tx.Rollback() //nolint:errcheck

	var state any
	if len(out.State) > 0 {
		state = string(out.State)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, attempts = ?, state = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(out.Status), out.Attempts, state, out.Error, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	if err := checkRowsAffected(res, runID); err != nil {
		return err
	}

	for _, n := range out.Nodes {
		id := n.ID
		if id == "" {
			id = uuid.New().String()
		}
		keys, err := json.Marshal(orEmpty(n.Keys))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal node keys")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO node_executions (id, run_id, node, step, status, keys, duration_ms, error, started_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, runID, n.Node, n.Step, string(n.Status), string(keys), n.DurationMs, n.Error, n.StartedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert node %s for run %s", n.Node, runID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit finish run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, table_name, query, status, attempts, state, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node, step, status, keys, duration_ms, error, started_at
		 FROM node_executions WHERE run_id = ? ORDER BY step, started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list nodes for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var n model.NodeExecution
		var keys string
		if err := rows.Scan(&n.ID, &n.RunID, &n.Node, &n.Step, &n.Status, &keys, &n.DurationMs, &n.Error, &n.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan node execution")
		}
		if err := json.Unmarshal([]byte(keys), &n.Keys); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal node keys")
		}
		r.Nodes = append(r.Nodes, n)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: list nodes iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, table_name, query, status, attempts, state, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TableName != "" {
		query += ` AND table_name = ?`
		args = append(args, filter.TableName)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var state sql.NullString

	err := row.Scan(&r.ID, &r.TableName, &r.Query, &r.Status, &r.Attempts, &state, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	if state.Valid {
		r.State = json.RawMessage(state.String)
	}
	return &r, nil
}

func orEmpty(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
