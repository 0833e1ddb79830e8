package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/biswatch/internal/crawl"
	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/resilience"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS state_entries (
	id         TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	first_seen DATETIME NOT NULL,
	last_seen  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_cursor (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	next_page         INTEGER NOT NULL,
	baseline_complete INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS failed_pages (
	page     INTEGER PRIMARY KEY,
	attempts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	report     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_state_entries_last_seen ON state_entries(last_seen);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadState(ctx context.Context) (map[string]model.StateEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record, first_seen, last_seen FROM state_entries`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load state")
	}
	defer rows.Close()

	state := make(map[string]model.StateEntry)
	for rows.Next() {
		var id, recordJSON string
		var entry model.StateEntry
		if err := rows.Scan(&id, &recordJSON, &entry.FirstSeen, &entry.LastSeen); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state entry")
		}
		if err := json.Unmarshal([]byte(recordJSON), &entry.Record); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal record %s", id)
		}
		state[id] = entry
	}
	return state, eris.Wrap(rows.Err(), "sqlite: load state iterate")
}

func (s *SQLiteStore) LoadCursor(ctx context.Context) (crawl.Cursor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT next_page, baseline_complete FROM crawl_cursor WHERE id = 1`,
	)

	var cur crawl.Cursor
	err := row.Scan(&cur.NextPage, &cur.BaselineComplete)
	if err == sql.ErrNoRows {
		// Fresh database: start building from the first page.
		return crawl.Cursor{NextPage: 1}, nil
	}
	if err != nil {
		return crawl.Cursor{}, eris.Wrap(err, "sqlite: load cursor")
	}
	return cur, nil
}

func (s *SQLiteStore) LoadFailedPages(ctx context.Context) ([]resilience.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page, attempts FROM failed_pages ORDER BY page`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load failed pages")
	}
	defer rows.Close()

	var entries []resilience.QueueEntry
	for rows.Next() {
		var e resilience.QueueEntry
		if err := rows.Scan(&e.Page, &e.Attempts); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failed page")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: load failed pages iterate")
}

// SaveRunState persists the snapshot in one transaction: the state table,
// the cursor, the failed-page queue, and the run report either all land
// or none do.
func (s *SQLiteStore) SaveRunState(ctx context.Context, snap RunSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO state_entries (id, record, first_seen, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record, first_seen = excluded.first_seen, last_seen = excluded.last_seen`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare state upsert")
	}
	defer stmt.Close()

	for id, entry := range snap.State {
		recordJSON, err := json.Marshal(entry.Record)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal record %s", id)
		}
		if _, err := stmt.ExecContext(ctx, id, string(recordJSON), entry.FirstSeen.UTC(), entry.LastSeen.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: upsert state entry %s", id)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO crawl_cursor (id, next_page, baseline_complete) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET next_page = excluded.next_page, baseline_complete = excluded.baseline_complete`,
		snap.Cursor.NextPage, snap.Cursor.BaselineComplete,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert cursor")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM failed_pages`); err != nil {
		return eris.Wrap(err, "sqlite: clear failed pages")
	}
	for _, e := range snap.Failed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failed_pages (page, attempts) VALUES (?, ?)`,
			e.Page, e.Attempts,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert failed page %d", e.Page)
		}
	}

	reportJSON, err := json.Marshal(snap.Report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, report) VALUES (?, ?, ?)`,
		snap.Report.ID, snap.Report.StartedAt.UTC(), string(reportJSON),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", snap.Report.ID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs WHERE id = ?`,
		runID,
	)
	return scanReport(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var reports []model.RunReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LastRun(ctx context.Context) (*model.RunReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`,
	)
	r, err := scanReport(row)
	if eris.Is(err, errRunNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) StateCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM state_entries`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: state count")
}

func (s *SQLiteStore) PruneState(ctx context.Context, lastSeenBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM state_entries WHERE last_seen < ?`,
		lastSeenBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune state")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ResetCursor(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM crawl_cursor`)
	return eris.Wrap(err, "sqlite: reset cursor")
}

func (s *SQLiteStore) ResetFailedPages(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_pages`)
	return eris.Wrap(err, "sqlite: reset failed pages")
}

// helpers

var errRunNotFound = eris.New("run not found")

type scannable interface {
	Scan(dest ...any) error
}

func scanReport(row scannable) (*model.RunReport, error) {
	var reportJSON string
	err := row.Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, errRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	var r model.RunReport
	if err := json.Unmarshal([]byte(reportJSON), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &r, nil
}
