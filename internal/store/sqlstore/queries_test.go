package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonemaster/zmbroker/internal/metrics"
	"github.com/zonemaster/zmbroker/internal/store"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// testTimeout is the common timeout of the store tests.
const testTimeout = 1 * time.Second

// newTestStore returns a store backed by a mock connection together with the
// expectation handle.  The sqlite dialect is used, so queries keep their
// question-mark placeholders.
func newTestStore(t *testing.T) (s *Store, mock sqlmock.Sqlmock) {
	t.Helper()

	return newTestStoreDialect(t, &sqliteDialect{}, "sqlite3")
}

// newTestStoreDialect is like [newTestStore] but with the given dialect and
// the sqlx driver name that selects the matching placeholder style.
func newTestStoreDialect(t *testing.T, d dialect, driver string) (s *Store, mock sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := metrics.NewStore("zmbroker_test", prometheus.NewRegistry())
	require.NoError(t, err)

	return &Store{
		logger:  slogutil.NewDiscardLogger(),
		metrics: m,
		db:      sqlx.NewDb(db, driver),
		d:       d,
		claimMu: &sync.Mutex{},
	}, mock
}

func TestStore_CreateTest_reuse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT hash_id, progress, creation_time`).
		WithArgs(int64(0xBEEF)).
		WillReturnRows(sqlmock.NewRows([]string{
			"hash_id", "progress", "creation_time",
		}).AddRow("0123456789abcdef", 50, time.Now().UTC()))
	mock.ExpectCommit()

	id, err := s.CreateTest(ctx, &store.CreateTestRequest{
		Params:      &zmb.TestParams{Domain: "example.com", Profile: "default"},
		Fingerprint: 0xBEEF,
		ReuseWindow: 10 * time.Minute,
		Priority:    10,
	})
	require.NoError(t, err)

	assert.Equal(t, zmb.TestID("0123456789abcdef"), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateTest_insert(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	s, mock := newTestStore(t)

	params := &zmb.TestParams{Domain: "example.com", Profile: "default"}
	doc, err := json.Marshal(params)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT hash_id, progress, creation_time`).
		WithArgs(int64(0xBEEF)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO test_results`).
		WithArgs(
			sqlmock.AnyArg(),
			int64(0xBEEF),
			"example.com",
			nil,
			sqlmock.AnyArg(),
			zmb.ProgressNone,
			10,
			0,
			false,
			string(doc),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := s.CreateTest(ctx, &store.CreateTestRequest{
		Params:      params,
		Fingerprint: 0xBEEF,
		ReuseWindow: 10 * time.Minute,
		Priority:    10,
	})
	require.NoError(t, err)

	assert.Len(t, string(id), zmb.TestIDLen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateTest_collisionRetry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	s, mock := newTestStore(t)

	// First attempt: the lookup misses and the insert loses the race to a
	// concurrent writer with the same fingerprint.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT hash_id, progress, creation_time`).
		WithArgs(int64(0xBEEF)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO test_results`).
		WillReturnError(sqlite3.Error{
			Code:         sqlite3.ErrConstraint,
			ExtendedCode: sqlite3.ErrConstraintUnique,
		})
	mock.ExpectRollback()

	// Retry: the lookup now finds the winner's row and reuses it.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT hash_id, progress, creation_time`).
		WithArgs(int64(0xBEEF)).
		WillReturnRows(sqlmock.NewRows([]string{
			"hash_id", "progress", "creation_time",
		}).AddRow("fedcba9876543210", zmb.ProgressNone, time.Now().UTC()))
	mock.ExpectCommit()

	id, err := s.CreateTest(ctx, &store.CreateTestRequest{
		Params:      &zmb.TestParams{Domain: "example.com", Profile: "default"},
		Fingerprint: 0xBEEF,
		ReuseWindow: 10 * time.Minute,
		Priority:    10,
	})
	require.NoError(t, err)

	assert.Equal(t, zmb.TestID("fedcba9876543210"), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClaimNext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	t.Run("claimed", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WithArgs(0, zmb.ProgressDone).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(`SELECT id, hash_id`).
			WithArgs(0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "hash_id"}).
				AddRow(int64(7), "0123456789abcdef"))
		mock.ExpectExec(`UPDATE test_results\s+SET start_time`).
			WithArgs(sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		id, ok, err := s.ClaimNext(ctx, 0, 10)
		require.NoError(t, err)

		assert.True(t, ok)
		assert.Equal(t, zmb.TestID("0123456789abcdef"), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("at_capacity", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WithArgs(0, zmb.ProgressDone).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
		mock.ExpectCommit()

		_, ok, err := s.ClaimNext(ctx, 0, 10)
		require.NoError(t, err)

		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty_queue", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WithArgs(5, zmb.ProgressDone).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT id, hash_id`).
			WithArgs(5).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectCommit()

		_, ok, err := s.ClaimNext(ctx, 5, 10)
		require.NoError(t, err)

		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost_race", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WithArgs(0, zmb.ProgressDone).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT id, hash_id`).
			WithArgs(0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "hash_id"}).
				AddRow(int64(7), "0123456789abcdef"))
		mock.ExpectExec(`UPDATE test_results\s+SET start_time`).
			WithArgs(sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		_, ok, err := s.ClaimNext(ctx, 0, 10)
		require.NoError(t, err)

		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_ClaimNext_queueLock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	// The capacity check must run under the per-queue lock: without it two
	// concurrent claimers both read the pre-claim running count and both
	// pass the check.  Ordered expectations verify the lock comes first.
	t.Run("postgresql", func(t *testing.T) {
		s, mock := newTestStoreDialect(t, &postgresDialect{}, "pgx")

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
			WithArgs(2).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WithArgs(2, zmb.ProgressDone).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
		mock.ExpectCommit()

		_, ok, err := s.ClaimNext(ctx, 2, 10)
		require.NoError(t, err)

		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mysql", func(t *testing.T) {
		s, mock := newTestStoreDialect(t, &mysqlDialect{}, "mysql")

		mock.ExpectExec(`INSERT IGNORE INTO claim_locks`).
			WithArgs(2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectBegin()
		mock.ExpectExec(`SELECT queue FROM claim_locks WHERE queue = \? FOR UPDATE`).
			WithArgs(2).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WithArgs(2, zmb.ProgressDone).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT id, hash_id`).
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "hash_id"}).
				AddRow(int64(7), "0123456789abcdef"))
		mock.ExpectExec(`UPDATE test_results\s+SET start_time`).
			WithArgs(sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		id, ok, err := s.ClaimNext(ctx, 2, 10)
		require.NoError(t, err)

		assert.True(t, ok)
		assert.Equal(t, zmb.TestID("0123456789abcdef"), id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_SetProgress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	const id = zmb.TestID("0123456789abcdef")

	t.Run("advance", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT progress FROM test_results`).
			WithArgs(string(id)).
			WillReturnRows(sqlmock.NewRows([]string{"progress"}).AddRow(20))
		mock.ExpectExec(`UPDATE test_results\s+SET progress = \?\s+WHERE`).
			WithArgs(50, string(id), 50).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.SetProgress(ctx, id, 50))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finish_sets_end_time", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT progress FROM test_results`).
			WithArgs(string(id)).
			WillReturnRows(sqlmock.NewRows([]string{"progress"}).AddRow(80))
		mock.ExpectExec(`UPDATE test_results\s+SET progress = \?, end_time`).
			WithArgs(zmb.ProgressDone, sqlmock.AnyArg(), string(id), zmb.ProgressDone).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.SetProgress(ctx, id, zmb.ProgressDone))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lower_is_noop", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT progress FROM test_results`).
			WithArgs(string(id)).
			WillReturnRows(sqlmock.NewRows([]string{"progress"}).AddRow(80))
		mock.ExpectCommit()

		require.NoError(t, s.SetProgress(ctx, id, 50))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not_found", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT progress FROM test_results`).
			WithArgs(string(id)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := s.SetProgress(ctx, id, 50)

		target := &zmb.NotFoundError{}
		require.ErrorAs(t, err, &target)

		assert.Equal(t, "test", target.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("out_of_range", func(t *testing.T) {
		s, mock := newTestStore(t)

		err := s.SetProgress(ctx, id, 101)

		target := &zmb.ArgumentError{}
		require.ErrorAs(t, err, &target)

		assert.Equal(t, "progress", target.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_StoreResults(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	const id = zmb.TestID("0123456789abcdef")

	entries := []*zmb.ResultEntry{{
		Module: "NAMESERVER",
		Tag:    "NO_RESPONSE",
		Level:  zmb.SeverityWarning,
	}, {
		Module: "SYSTEM",
		Tag:    "TRACE",
		Level:  zmb.SeverityDebug,
	}}

	// Debug entries are dropped before storage.
	doc, err := json.Marshal(entries[:1])
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT start_time FROM test_results`).
			WithArgs(string(id)).
			WillReturnRows(sqlmock.NewRows([]string{"start_time"}).
				AddRow(time.Now().UTC()))
		mock.ExpectExec(`UPDATE test_results SET results`).
			WithArgs(string(doc), string(id)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.StoreResults(ctx, id, entries))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not_started", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT start_time FROM test_results`).
			WithArgs(string(id)).
			WillReturnRows(sqlmock.NewRows([]string{"start_time"}).AddRow(nil))
		mock.ExpectRollback()

		assert.ErrorIs(t, s.StoreResults(ctx, id, entries), zmb.ErrNotStarted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_ReadTest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	const id = zmb.TestID("0123456789abcdef")

	t.Run("ok", func(t *testing.T) {
		s, mock := newTestStore(t)

		created := time.Now().UTC().Truncate(time.Microsecond)
		cols := []string{
			"id", "hash_id", "fingerprint", "domain", "batch_id",
			"creation_time", "start_time", "end_time", "progress",
			"priority", "queue", "undelegated", "params", "results",
		}

		mock.ExpectQuery(`FROM test_results\s+WHERE hash_id`).
			WithArgs(string(id)).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				int64(42), string(id), int64(0xBEEF), "example.com", nil,
				created, nil, nil, zmb.ProgressNone,
				10, 0, false,
				[]byte(`{"domain":"example.com","profile":"default"}`), nil,
			))

		got, err := s.ReadTest(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, uint64(42), got.SeqID)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "example.com", got.Domain)
		assert.Equal(t, zmb.Fingerprint(0xBEEF), got.Fingerprint)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.EndedAt)
		assert.Zero(t, got.BatchID)
		assert.Equal(t, "default", got.Params.Profile)
		assert.Empty(t, got.Results)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not_found", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectQuery(`FROM test_results\s+WHERE hash_id`).
			WithArgs(string(id)).
			WillReturnError(sql.ErrNoRows)

		_, err := s.ReadTest(ctx, id)

		target := &zmb.NotFoundError{}
		require.ErrorAs(t, err, &target)

		assert.Equal(t, string(id), target.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_CreateBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	req := &store.CreateBatchRequest{
		Params:   &zmb.TestParams{Profile: "default"},
		Username: "alice",
		APIKey:   "secret",
		Domains:  []string{"a.test", "b.test"},
		Priority: 5,
	}

	t.Run("ok", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("secret"))
		mock.ExpectQuery(`FROM batch_jobs b\s+JOIN test_results t`).
			WithArgs("alice", zmb.ProgressDone).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO batch_jobs`).
			WithArgs("alice", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(3, 1))

		for range req.Domains {
			mock.ExpectQuery(`SELECT hash_id, progress, creation_time`).
				WillReturnError(sql.ErrNoRows)
			mock.ExpectExec(`INSERT INTO test_results`).
				WillReturnResult(sqlmock.NewResult(1, 1))
		}

		mock.ExpectCommit()

		batchID, err := s.CreateBatch(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, uint64(3), batchID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bad_credentials", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("other"))
		mock.ExpectRollback()

		_, err := s.CreateBatch(ctx, req)

		target := &zmb.AuthError{}
		require.ErrorAs(t, err, &target)

		assert.Equal(t, "alice", target.Username)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("open_batch", func(t *testing.T) {
		s, mock := newTestStore(t)

		created := time.Now().UTC().Truncate(time.Microsecond)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("secret"))
		mock.ExpectQuery(`FROM batch_jobs b\s+JOIN test_results t`).
			WithArgs("alice", zmb.ProgressDone).
			WillReturnRows(sqlmock.NewRows([]string{"id", "creation_time"}).
				AddRow(int64(2), created))
		mock.ExpectRollback()

		_, err := s.CreateBatch(ctx, req)

		target := &zmb.BatchOpenError{}
		require.ErrorAs(t, err, &target)

		assert.Equal(t, uint64(2), target.BatchID)
		assert.Equal(t, created, target.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_BatchStatus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	t.Run("ok", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_jobs`).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`SELECT hash_id, progress`).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"hash_id", "progress"}).
				AddRow("1111111111111111", zmb.ProgressDone).
				AddRow("2222222222222222", 50))

		st, err := s.BatchStatus(ctx, 3)
		require.NoError(t, err)

		assert.Equal(t, 1, st.NumFinished)
		assert.Equal(t, 1, st.NumRunning)
		assert.Equal(t, []zmb.TestID{"1111111111111111"}, st.FinishedTestIDs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not_found", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batch_jobs`).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		_, err := s.BatchStatus(ctx, 9)

		target := &zmb.NotFoundError{}
		require.ErrorAs(t, err, &target)

		assert.Equal(t, "batch", target.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_AddUser(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	u := &zmb.User{Username: "alice", APIKey: "secret"}

	t.Run("added", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs("alice", "secret").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		added, err := s.AddUser(ctx, u)
		require.NoError(t, err)

		assert.Equal(t, 1, added)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same_key_idempotent", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("secret"))
		mock.ExpectCommit()

		added, err := s.AddUser(ctx, u)
		require.NoError(t, err)

		assert.Zero(t, added)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("different_key", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("other"))
		mock.ExpectRollback()

		_, err := s.AddUser(ctx, u)

		target := &zmb.UserExistsError{}
		require.ErrorAs(t, err, &target)

		assert.Equal(t, "alice", target.Username)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_VerifyUser(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	t.Run("match", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("secret"))

		ok, err := s.VerifyUser(ctx, "alice", "secret")
		require.NoError(t, err)

		assert.True(t, ok)
	})

	t.Run("mismatch", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"api_key"}).AddRow("other"))

		ok, err := s.VerifyUser(ctx, "alice", "secret")
		require.NoError(t, err)

		assert.False(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT api_key FROM users`).
			WithArgs("bob").
			WillReturnError(sql.ErrNoRows)

		ok, err := s.VerifyUser(ctx, "bob", "secret")
		require.NoError(t, err)

		assert.False(t, ok)
	})
}

func TestStore_History(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	s, mock := newTestStore(t)

	created := time.Now().UTC().Truncate(time.Microsecond)
	results := `[{"module":"NAMESERVER","tag":"NO_RESPONSE","level":"WARNING"}]`

	mock.ExpectQuery(`SELECT id, hash_id, creation_time, undelegated, progress, results`).
		WithArgs("example.com", zmb.ProgressDone, true, 200, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "hash_id", "creation_time", "undelegated", "progress", "results",
		}).AddRow(int64(42), "0123456789abcdef", created, true, zmb.ProgressDone, []byte(results)))

	entries, err := s.History(ctx, &store.HistoryRequest{
		Domain: "example.com",
		Filter: zmb.HistoryFilterUndelegated,
		Limit:  200,
	})
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, uint64(42), entries[0].SeqID)
	assert.Equal(t, zmb.TestID("0123456789abcdef"), entries[0].ID)
	assert.True(t, entries[0].Undelegated)
	assert.Equal(t, zmb.OverallResultWarning, entries[0].Overall)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReclaimStale(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	t.Run("reclaims", func(t *testing.T) {
		s, mock := newTestStore(t)

		mock.ExpectExec(`UPDATE test_results\s+SET start_time = NULL`).
			WithArgs(zmb.ProgressNone, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := s.ReclaimStale(ctx, 10*time.Minute)
		require.NoError(t, err)

		assert.Equal(t, 3, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disabled", func(t *testing.T) {
		s, mock := newTestStore(t)

		n, err := s.ReclaimStale(ctx, 0)
		require.NoError(t, err)

		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
