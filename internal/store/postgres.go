package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/biswatch/internal/crawl"
	"github.com/sells-group/biswatch/internal/db"
	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/resilience"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"load_state":        `SELECT id, record, first_seen, last_seen FROM state_entries`,
	"load_cursor":       `SELECT next_page, baseline_complete FROM crawl_cursor WHERE id = 1`,
	"load_failed_pages": `SELECT page, attempts FROM failed_pages ORDER BY page`,
	"get_run":           `SELECT report FROM runs WHERE id = $1`,
	"last_run":          `SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`,
	"state_count":       `SELECT COUNT(*) FROM state_entries`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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
CREATE TABLE IF NOT EXISTS state_entries (
	id         TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_cursor (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	next_page         INTEGER NOT NULL,
	baseline_complete BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS failed_pages (
	page     INTEGER PRIMARY KEY,
	attempts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	report     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_state_entries_last_seen ON state_entries(last_seen);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

func (s *PostgresStore) LoadState(ctx context.Context) (map[string]model.StateEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record, first_seen, last_seen FROM state_entries`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load state")
	}
	defer rows.Close()

	state := make(map[string]model.StateEntry)
	for rows.Next() {
		var id string
		var recordJSON []byte
		var entry model.StateEntry
		if err := rows.Scan(&id, &recordJSON, &entry.FirstSeen, &entry.LastSeen); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state entry")
		}
		if err := json.Unmarshal(recordJSON, &entry.Record); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal record %s", id)
		}
		state[id] = entry
	}
	return state, eris.Wrap(rows.Err(), "postgres: load state iterate")
}

func (s *PostgresStore) LoadCursor(ctx context.Context) (crawl.Cursor, error) {
	var cur crawl.Cursor
	err := s.pool.QueryRow(ctx,
		`SELECT next_page, baseline_complete FROM crawl_cursor WHERE id = 1`,
	).Scan(&cur.NextPage, &cur.BaselineComplete)
	if eris.Is(err, pgx.ErrNoRows) {
		// Fresh database: start building from the first page.
		return crawl.Cursor{NextPage: 1}, nil
	}
	if err != nil {
		return crawl.Cursor{}, eris.Wrap(err, "postgres: load cursor")
	}
	return cur, nil
}

func (s *PostgresStore) LoadFailedPages(ctx context.Context) ([]resilience.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT page, attempts FROM failed_pages ORDER BY page`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load failed pages")
	}
	defer rows.Close()

	var entries []resilience.QueueEntry
	for rows.Next() {
		var e resilience.QueueEntry
		if err := rows.Scan(&e.Page, &e.Attempts); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failed page")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: load failed pages iterate")
}

// SaveRunState persists the snapshot in one transaction. State entries go
// through the bulk upsert path since steady-state runs rewrite the whole
// table's worth of rows.
func (s *PostgresStore) SaveRunState(ctx context.Context, snap RunSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if len(snap.State) > 0 {
		upsertRows := make([][]any, 0, len(snap.State))
		for id, entry := range snap.State {
			recordJSON, err := json.Marshal(entry.Record)
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal record %s", id)
			}
			upsertRows = append(upsertRows, []any{id, recordJSON, entry.FirstSeen.UTC(), entry.LastSeen.UTC()})
		}
		if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        "state_entries",
			Columns:      []string{"id", "record", "first_seen", "last_seen"},
			ConflictKeys: []string{"id"},
		}, upsertRows); err != nil {
			return eris.Wrap(err, "postgres: upsert state")
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO crawl_cursor (id, next_page, baseline_complete) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET next_page = EXCLUDED.next_page, baseline_complete = EXCLUDED.baseline_complete`,
		snap.Cursor.NextPage, snap.Cursor.BaselineComplete,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert cursor")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM failed_pages`); err != nil {
		return eris.Wrap(err, "postgres: clear failed pages")
	}
	for _, e := range snap.Failed {
		if _, err := tx.Exec(ctx,
			`INSERT INTO failed_pages (page, attempts) VALUES ($1, $2)`,
			e.Page, e.Attempts,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert failed page %d", e.Page)
		}
	}

	reportJSON, err := json.Marshal(snap.Report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO runs (id, started_at, report) VALUES ($1, $2, $3)`,
		snap.Report.ID, snap.Report.StartedAt.UTC(), reportJSON,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", snap.Report.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunReport, error) {
	var reportJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM runs WHERE id = $1`,
		runID,
	).Scan(&reportJSON)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, errRunNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return unmarshalReport(reportJSON)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var reports []model.RunReport
	for rows.Next() {
		var reportJSON []byte
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r, err := unmarshalReport(reportJSON)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LastRun(ctx context.Context) (*model.RunReport, error) {
	var reportJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&reportJSON)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last run")
	}
	return unmarshalReport(reportJSON)
}

func (s *PostgresStore) StateCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM state_entries`).Scan(&n)
	return n, eris.Wrap(err, "postgres: state count")
}

func (s *PostgresStore) PruneState(ctx context.Context, lastSeenBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM state_entries WHERE last_seen < $1`,
		lastSeenBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune state")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ResetCursor(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM crawl_cursor`)
	return eris.Wrap(err, "postgres: reset cursor")
}

func (s *PostgresStore) ResetFailedPages(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM failed_pages`)
	return eris.Wrap(err, "postgres: reset failed pages")
}

func unmarshalReport(data []byte) (*model.RunReport, error) {
	var r model.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &r, nil
}
