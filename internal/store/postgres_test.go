package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biswatch/internal/crawl"
	"github.com/sells-group/biswatch/internal/model"
	"github.com/sells-group/biswatch/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_LoadCursor_Fresh(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT next_page, baseline_complete FROM crawl_cursor`).
		WillReturnError(pgx.ErrNoRows)

	cur, err := s.LoadCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawl.Cursor{NextPage: 1, BaselineComplete: false}, cur)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadCursor(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT next_page, baseline_complete FROM crawl_cursor`).
		WillReturnRows(pgxmock.NewRows([]string{"next_page", "baseline_complete"}).AddRow(121, true))

	cur, err := s.LoadCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawl.Cursor{NextPage: 121, BaselineComplete: true}, cur)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadState(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, record, first_seen, last_seen FROM state_entries`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "record", "first_seen", "last_seen"}).
			AddRow("nr:BIS-BL-1", []byte(`{"id":"nr:BIS-BL-1","fields":{"bis_number":"BIS-BL-1","phase":"Iecere"}}`), now, now).
			AddRow("nr:BIS-BL-2", []byte(`{"id":"nr:BIS-BL-2","fields":{"bis_number":"BIS-BL-2"}}`), now, now))

	state, err := s.LoadState(context.Background())
	require.NoError(t, err)
	require.Len(t, state, 2)
	assert.Equal(t, "Iecere", state["nr:BIS-BL-1"].Record.Field(model.FieldPhase))
	assert.Equal(t, now, state["nr:BIS-BL-2"].LastSeen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadFailedPages(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT page, attempts FROM failed_pages`).
		WillReturnRows(pgxmock.NewRows([]string{"page", "attempts"}).AddRow(3, 1).AddRow(7, 2))

	entries, err := s.LoadFailedPages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []resilience.QueueEntry{{Page: 3, Attempts: 1}, {Page: 7, Attempts: 2}}, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunState_SingleTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	id, entry := testEntry("BIS-BL-12345", "Iecere", now)
	snap := RunSnapshot{
		State:  map[string]model.StateEntry{id: entry},
		Cursor: crawl.Cursor{NextPage: 41},
		Failed: []resilience.QueueEntry{{Page: 7, Attempts: 2}},
		Report: model.RunReport{ID: "run-1", StartedAt: now, NextPage: 41, StateSize: 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_state_entries"}, []string{"id", "record", "first_seen", "last_seen"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "state_entries"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO crawl_cursor`).
		WithArgs(41, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM failed_pages`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO failed_pages`).
		WithArgs(7, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveRunState(context.Background(), snap)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunState_EmptyStateSkipsUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	snap := RunSnapshot{
		Cursor: crawl.Cursor{NextPage: 1, BaselineComplete: true},
		Report: model.RunReport{ID: "run-2", StartedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO crawl_cursor`).
		WithArgs(1, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM failed_pages`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs("run-2", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveRunState(context.Background(), snap)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT report FROM runs WHERE id = \$1`).
		WithArgs("run-abc").
		WillReturnRows(pgxmock.NewRows([]string{"report"}).
			AddRow([]byte(`{"id":"run-abc","next_page":41,"state_size":120}`)))

	r, err := s.GetRun(context.Background(), "run-abc")
	require.NoError(t, err)
	assert.Equal(t, "run-abc", r.ID)
	assert.Equal(t, 41, r.NextPage)
	assert.Equal(t, 120, r.StateSize)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT report FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastRun_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`).
		WillReturnError(pgx.ErrNoRows)

	r, err := s.LastRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StateCount(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM state_entries`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.StateCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PruneState(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM state_entries WHERE last_seen < \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.PruneState(context.Background(), time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetCursor(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM crawl_cursor`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.ResetCursor(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
