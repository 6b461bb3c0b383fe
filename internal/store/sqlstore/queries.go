package sqlstore

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/jmoiron/sqlx"
	"github.com/zonemaster/zmbroker/internal/fingerprint"
	"github.com/zonemaster/zmbroker/internal/store"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// createRetries bounds the unique-violation retries of CreateTest and
// CreateBatch.  A violation means another writer inserted the same
// fingerprint concurrently, so the retried lookup finds a reusable row.
const createRetries = 3

// testRow is the scanning target for test_results rows.
type testRow struct {
	CreationTime time.Time     `db:"creation_time"`
	StartTime    sql.NullTime  `db:"start_time"`
	EndTime      sql.NullTime  `db:"end_time"`
	HashID       string        `db:"hash_id"`
	Domain       string        `db:"domain"`
	Params       []byte        `db:"params"`
	Results      []byte        `db:"results"`
	ID           int64         `db:"id"`
	Fingerprint  int64         `db:"fingerprint"`
	BatchID      sql.NullInt64 `db:"batch_id"`
	Progress     int           `db:"progress"`
	Priority     int           `db:"priority"`
	Queue        int           `db:"queue"`
	Undelegated  bool          `db:"undelegated"`
}

// toTest converts the row into the domain entity.
func (row *testRow) toTest() (t *zmb.Test, err error) {
	t = &zmb.Test{
		CreatedAt:   row.CreationTime,
		Domain:      row.Domain,
		ID:          zmb.TestID(row.HashID),
		Fingerprint: zmb.Fingerprint(row.Fingerprint),
		SeqID:       uint64(row.ID),
		Progress:    row.Progress,
		Priority:    row.Priority,
		Queue:       row.Queue,
		Undelegated: row.Undelegated,
	}

	if row.StartTime.Valid {
		st := row.StartTime.Time
		t.StartedAt = &st
	}

	if row.EndTime.Valid {
		et := row.EndTime.Time
		t.EndedAt = &et
	}

	if row.BatchID.Valid {
		t.BatchID = uint64(row.BatchID.Int64)
	}

	t.Params = &zmb.TestParams{}
	err = json.Unmarshal(row.Params, t.Params)
	if err != nil {
		return nil, fmt.Errorf("test %s: decoding params: %w", row.HashID, err)
	}

	if len(row.Results) > 0 {
		err = json.Unmarshal(row.Results, &t.Results)
		if err != nil {
			return nil, fmt.Errorf("test %s: decoding results: %w", row.HashID, err)
		}
	}

	return t, nil
}

// CreateTest implements the [store.Interface] interface for *Store.
func (s *Store) CreateTest(
	ctx context.Context,
	req *store.CreateTestRequest,
) (id zmb.TestID, err error) {
	for range createRetries {
		var reused bool
		id, reused, err = s.createTestOnce(ctx, req)
		if err == nil {
			s.metrics.ObserveCreate(reused)

			return id, nil
		} else if !s.d.isUniqueViolation(err) {
			return "", fmt.Errorf("creating test: %w", err)
		}

		// Another writer inserted the same fingerprint concurrently; retry
		// the lookup branch, which now finds the reusable row.
		s.logger.DebugContext(ctx, "create test collision", "fingerprint", req.Fingerprint)
	}

	return "", fmt.Errorf("creating test: %w", err)
}

// createTestOnce performs one lookup-or-insert attempt.
func (s *Store) createTestOnce(
	ctx context.Context,
	req *store.CreateTestRequest,
) (id zmb.TestID, reused bool, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) (txErr error) {
		id, reused, txErr = s.findOrInsertTest(ctx, tx, req)

		return txErr
	})

	return id, reused, err
}

// findOrInsertTest looks up the most recent test with the request
// fingerprint inside tx, reuses it when the reuse rule allows, and inserts a
// new row otherwise.
func (s *Store) findOrInsertTest(
	ctx context.Context,
	tx *sqlx.Tx,
	req *store.CreateTestRequest,
) (id zmb.TestID, reused bool, err error) {
	var prev struct {
		CreationTime time.Time `db:"creation_time"`
		HashID       string    `db:"hash_id"`
		Progress     int       `db:"progress"`
	}

	ts := now()

	err = tx.GetContext(ctx, &prev, tx.Rebind(`
		SELECT hash_id, progress, creation_time
		FROM test_results
		WHERE fingerprint = ?
		ORDER BY id DESC
		LIMIT 1
	`), int64(req.Fingerprint))
	if err == nil {
		if prev.Progress < zmb.ProgressDone ||
			prev.CreationTime.After(ts.Add(-req.ReuseWindow)) {
			return zmb.TestID(prev.HashID), true, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("looking up fingerprint: %w", err)
	}

	params, err := json.Marshal(req.Params)
	if err != nil {
		return "", false, fmt.Errorf("encoding params: %w", err)
	}

	id = fingerprint.NewTestID(req.Fingerprint, ts)

	var batchID sql.NullInt64
	if req.BatchID != 0 {
		batchID = sql.NullInt64{Int64: int64(req.BatchID), Valid: true}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO test_results (
			hash_id, fingerprint, domain, batch_id, creation_time,
			progress, priority, queue, undelegated, params
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		string(id),
		int64(req.Fingerprint),
		req.Params.Domain,
		batchID,
		ts,
		zmb.ProgressNone,
		req.Priority,
		req.Queue,
		req.Params.Undelegated(),
		string(params),
	)
	if err != nil {
		// Don't wrap the error: CreateTest inspects it for unique
		// violations.
		return "", false, err
	}

	return id, false, nil
}

// ClaimNext implements the [store.Interface] interface for *Store.
func (s *Store) ClaimNext(
	ctx context.Context,
	queue int,
	maxRunning int,
) (id zmb.TestID, ok bool, err error) {
	if s.d.serializeClaims() {
		s.claimMu.Lock()
		defer s.claimMu.Unlock()
	}

	setup, lock := s.d.claimLock()
	if setup != "" {
		_, err = s.db.ExecContext(ctx, s.db.Rebind(setup), queue)
		if err != nil {
			return "", false, fmt.Errorf("preparing claim lock on queue %d: %w", queue, err)
		}
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) (txErr error) {
		if lock != "" {
			_, txErr = tx.ExecContext(ctx, tx.Rebind(lock), queue)
			if txErr != nil {
				return fmt.Errorf("locking queue: %w", txErr)
			}
		}

		var running int
		txErr = tx.GetContext(ctx, &running, tx.Rebind(`
			SELECT COUNT(*)
			FROM test_results
			WHERE queue = ? AND start_time IS NOT NULL AND progress < ?
		`), queue, zmb.ProgressDone)
		if txErr != nil {
			return fmt.Errorf("counting running tests: %w", txErr)
		}

		if running >= maxRunning {
			return nil
		}

		var cand struct {
			HashID string `db:"hash_id"`
			ID     int64  `db:"id"`
		}

		txErr = tx.GetContext(ctx, &cand, tx.Rebind(`
			SELECT id, hash_id
			FROM test_results
			WHERE queue = ? AND start_time IS NULL
			ORDER BY priority DESC, id ASC
			LIMIT 1
		`+s.d.claimSuffix()), queue)
		if errors.Is(txErr, sql.ErrNoRows) {
			return nil
		} else if txErr != nil {
			return fmt.Errorf("selecting claimable test: %w", txErr)
		}

		res, txErr := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE test_results
			SET start_time = ?
			WHERE id = ? AND start_time IS NULL
		`), now(), cand.ID)
		if txErr != nil {
			return fmt.Errorf("marking test started: %w", txErr)
		}

		n, txErr := res.RowsAffected()
		if txErr != nil {
			return fmt.Errorf("checking claim: %w", txErr)
		} else if n == 0 {
			return nil
		}

		id, ok = zmb.TestID(cand.HashID), true

		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("claiming next on queue %d: %w", queue, err)
	}

	s.metrics.ObserveClaim(queue, ok)

	return id, ok, nil
}

// SetProgress implements the [store.Interface] interface for *Store.
func (s *Store) SetProgress(ctx context.Context, id zmb.TestID, progress int) (err error) {
	if progress < zmb.ProgressNone || progress > zmb.ProgressDone {
		return &zmb.ArgumentError{
			Name:    "progress",
			Message: strconv.Itoa(progress),
		}
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) (txErr error) {
		var cur int
		txErr = tx.GetContext(
			ctx,
			&cur,
			tx.Rebind(`SELECT progress FROM test_results WHERE hash_id = ?`),
			string(id),
		)
		if errors.Is(txErr, sql.ErrNoRows) {
			return &zmb.NotFoundError{Kind: "test", ID: string(id)}
		} else if txErr != nil {
			return fmt.Errorf("reading progress: %w", txErr)
		}

		// Lower values are a no-op, not an error: progress writers race and
		// the maximum wins.
		if progress <= cur {
			return nil
		}

		if progress >= zmb.ProgressDone {
			_, txErr = tx.ExecContext(ctx, tx.Rebind(`
				UPDATE test_results
				SET progress = ?, end_time = ?
				WHERE hash_id = ? AND progress < ?
			`), zmb.ProgressDone, now(), string(id), zmb.ProgressDone)
		} else {
			_, txErr = tx.ExecContext(ctx, tx.Rebind(`
				UPDATE test_results
				SET progress = ?
				WHERE hash_id = ? AND progress < ?
			`), progress, string(id), progress)
		}
		if txErr != nil {
			return fmt.Errorf("writing progress: %w", txErr)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("setting progress of test %s: %w", id, err)
	}

	return nil
}

// StoreResults implements the [store.Interface] interface for *Store.
func (s *Store) StoreResults(
	ctx context.Context,
	id zmb.TestID,
	entries []*zmb.ResultEntry,
) (err error) {
	doc, err := json.Marshal(zmb.FilterDebug(entries))
	if err != nil {
		return fmt.Errorf("encoding results of test %s: %w", id, err)
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) (txErr error) {
		var started sql.NullTime
		txErr = tx.GetContext(
			ctx,
			&started,
			tx.Rebind(`SELECT start_time FROM test_results WHERE hash_id = ?`),
			string(id),
		)
		if errors.Is(txErr, sql.ErrNoRows) {
			return &zmb.NotFoundError{Kind: "test", ID: string(id)}
		} else if txErr != nil {
			return fmt.Errorf("reading start time: %w", txErr)
		}

		if !started.Valid {
			return zmb.ErrNotStarted
		}

		_, txErr = tx.ExecContext(
			ctx,
			tx.Rebind(`UPDATE test_results SET results = ? WHERE hash_id = ?`),
			string(doc),
			string(id),
		)
		if txErr != nil {
			return fmt.Errorf("writing results: %w", txErr)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("storing results of test %s: %w", id, err)
	}

	return nil
}

// ReadTest implements the [store.Interface] interface for *Store.
func (s *Store) ReadTest(ctx context.Context, id zmb.TestID) (t *zmb.Test, err error) {
	row := &testRow{}
	err = s.db.GetContext(ctx, row, s.db.Rebind(`
		SELECT id, hash_id, fingerprint, domain, batch_id, creation_time,
			start_time, end_time, progress, priority, queue, undelegated,
			params, results
		FROM test_results
		WHERE hash_id = ?
	`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &zmb.NotFoundError{Kind: "test", ID: string(id)}
	} else if err != nil {
		return nil, fmt.Errorf("reading test %s: %w", id, err)
	}

	return row.toTest()
}

// History implements the [store.Interface] interface for *Store.
func (s *Store) History(
	ctx context.Context,
	req *store.HistoryRequest,
) (entries []*zmb.HistoryEntry, err error) {
	q := `
		SELECT id, hash_id, creation_time, undelegated, progress, results
		FROM test_results
		WHERE domain = ? AND (progress = ? OR start_time IS NOT NULL)
	`
	args := []any{req.Domain, zmb.ProgressDone}

	switch req.Filter {
	case zmb.HistoryFilterDelegated:
		q += ` AND undelegated = ?`
		args = append(args, false)
	case zmb.HistoryFilterUndelegated:
		q += ` AND undelegated = ?`
		args = append(args, true)
	default:
		// Keep all tests.
	}

	q += ` ORDER BY creation_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, req.Limit, req.Offset)

	var rows []*testRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("listing history of %q: %w", req.Domain, err)
	}

	entries = make([]*zmb.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		var results []*zmb.ResultEntry
		if len(row.Results) > 0 {
			err = json.Unmarshal(row.Results, &results)
			if err != nil {
				return nil, fmt.Errorf("test %s: decoding results: %w", row.HashID, err)
			}
		}

		entries = append(entries, &zmb.HistoryEntry{
			CreatedAt:   row.CreationTime,
			ID:          zmb.TestID(row.HashID),
			SeqID:       uint64(row.ID),
			Overall:     zmb.Overall(results),
			Undelegated: row.Undelegated,
		})
	}

	return entries, nil
}

// CreateBatch implements the [store.Interface] interface for *Store.
func (s *Store) CreateBatch(
	ctx context.Context,
	req *store.CreateBatchRequest,
) (batchID uint64, err error) {
	for range createRetries {
		batchID, err = s.createBatchOnce(ctx, req)
		if err == nil || !s.d.isUniqueViolation(err) {
			return batchID, err
		}

		s.logger.DebugContext(ctx, "create batch collision", "username", req.Username)
	}

	return 0, fmt.Errorf("creating batch: %w", err)
}

// createBatchOnce performs one create-batch attempt: the credential check,
// the open-batch check, the batch insert, and the per-domain test inserts,
// all in one transaction.
func (s *Store) createBatchOnce(
	ctx context.Context,
	req *store.CreateBatchRequest,
) (batchID uint64, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) (txErr error) {
		txErr = s.checkCredentials(ctx, tx, req.Username, req.APIKey)
		if txErr != nil {
			// Don't wrap the error, because it's informative enough as is.
			return txErr
		}

		txErr = s.checkNoOpenBatch(ctx, tx, req.Username)
		if txErr != nil {
			// Don't wrap the error, because it's informative enough as is.
			return txErr
		}

		batchID, txErr = s.insertBatch(ctx, tx, req.Username)
		if txErr != nil {
			return fmt.Errorf("inserting batch: %w", txErr)
		}

		for _, domain := range req.Domains {
			p := *req.Params
			p.Domain = domain

			fp, fpErr := fingerprint.New(&p)
			if fpErr != nil {
				return fmt.Errorf("fingerprinting %q: %w", domain, fpErr)
			}

			_, _, txErr = s.findOrInsertTest(ctx, tx, &store.CreateTestRequest{
				Params:      &p,
				Fingerprint: fp,
				// Batch submissions dedup like direct ones; a reused test
				// keeps its original batch association.
				ReuseWindow: 0,
				BatchID:     batchID,
				Priority:    req.Priority,
				Queue:       req.Queue,
			})
			if txErr != nil {
				// Don't wrap the error: CreateBatch inspects it for unique
				// violations.
				return txErr
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return batchID, nil
}

// checkCredentials verifies the presented credentials inside tx.  Missing
// users and mismatched keys are indistinguishable to the caller.
func (s *Store) checkCredentials(
	ctx context.Context,
	tx *sqlx.Tx,
	username string,
	apiKey string,
) (err error) {
	var stored string
	err = tx.GetContext(
		ctx,
		&stored,
		tx.Rebind(`SELECT api_key FROM users WHERE username = ?`),
		username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &zmb.AuthError{Username: username}
	} else if err != nil {
		return fmt.Errorf("reading user %q: %w", username, err)
	}

	if !keysEqual(stored, apiKey) {
		return &zmb.AuthError{Username: username}
	}

	return nil
}

// checkNoOpenBatch returns a [*zmb.BatchOpenError] when username has a batch
// with unfinished tests.
func (s *Store) checkNoOpenBatch(
	ctx context.Context,
	tx *sqlx.Tx,
	username string,
) (err error) {
	var open struct {
		CreationTime time.Time `db:"creation_time"`
		ID           int64     `db:"id"`
	}

	err = tx.GetContext(ctx, &open, tx.Rebind(`
		SELECT b.id, b.creation_time
		FROM batch_jobs b
		JOIN test_results t ON t.batch_id = b.id
		WHERE b.username = ? AND t.progress < ?
		ORDER BY b.id DESC
		LIMIT 1
	`), username, zmb.ProgressDone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		return fmt.Errorf("checking open batches of %q: %w", username, err)
	}

	return &zmb.BatchOpenError{
		CreatedAt: open.CreationTime,
		BatchID:   uint64(open.ID),
	}
}

// insertBatch inserts the batch row and returns its generated identifier,
// using RETURNING where the backend supports it and LastInsertId elsewhere.
func (s *Store) insertBatch(
	ctx context.Context,
	tx *sqlx.Tx,
	username string,
) (batchID uint64, err error) {
	if s.d.returning() {
		var id int64
		err = tx.GetContext(ctx, &id, tx.Rebind(`
			INSERT INTO batch_jobs (username, creation_time)
			VALUES (?, ?)
			RETURNING id
		`), username, now())
		if err != nil {
			return 0, err
		}

		return uint64(id), nil
	}

	res, err := tx.ExecContext(
		ctx,
		tx.Rebind(`INSERT INTO batch_jobs (username, creation_time) VALUES (?, ?)`),
		username,
		now(),
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading batch id: %w", err)
	}

	return uint64(id), nil
}

// BatchStatus implements the [store.Interface] interface for *Store.
func (s *Store) BatchStatus(
	ctx context.Context,
	batchID uint64,
) (st *zmb.BatchStatus, err error) {
	var exists int
	err = s.db.GetContext(
		ctx,
		&exists,
		s.db.Rebind(`SELECT COUNT(*) FROM batch_jobs WHERE id = ?`),
		int64(batchID),
	)
	if err != nil {
		return nil, fmt.Errorf("reading batch %d: %w", batchID, err)
	} else if exists == 0 {
		return nil, &zmb.NotFoundError{Kind: "batch", ID: strconv.FormatUint(batchID, 10)}
	}

	var rows []struct {
		HashID   string `db:"hash_id"`
		Progress int    `db:"progress"`
	}

	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT hash_id, progress
		FROM test_results
		WHERE batch_id = ?
		ORDER BY id ASC
	`), int64(batchID))
	if err != nil {
		return nil, fmt.Errorf("listing tests of batch %d: %w", batchID, err)
	}

	st = &zmb.BatchStatus{}
	for _, row := range rows {
		if row.Progress >= zmb.ProgressDone {
			st.NumFinished++
			st.FinishedTestIDs = append(st.FinishedTestIDs, zmb.TestID(row.HashID))
		} else {
			st.NumRunning++
		}
	}

	return st, nil
}

// AddUser implements the [store.Interface] interface for *Store.
func (s *Store) AddUser(ctx context.Context, u *zmb.User) (added int, err error) {
	for range createRetries {
		added, err = s.addUserOnce(ctx, u)
		if err == nil || !s.d.isUniqueViolation(err) {
			return added, err
		}
	}

	return 0, fmt.Errorf("adding user %q: %w", u.Username, err)
}

// addUserOnce performs one add-user attempt.  The backends signal a
// concurrent duplicate insert differently; the unique-violation retry in
// AddUser normalizes all of them to the lookup result.
func (s *Store) addUserOnce(ctx context.Context, u *zmb.User) (added int, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) (txErr error) {
		var stored string
		txErr = tx.GetContext(
			ctx,
			&stored,
			tx.Rebind(`SELECT api_key FROM users WHERE username = ?`),
			u.Username,
		)
		if txErr == nil {
			if keysEqual(stored, u.APIKey) {
				return nil
			}

			return &zmb.UserExistsError{Username: u.Username}
		} else if !errors.Is(txErr, sql.ErrNoRows) {
			return fmt.Errorf("reading user: %w", txErr)
		}

		_, txErr = tx.ExecContext(
			ctx,
			tx.Rebind(`INSERT INTO users (username, api_key) VALUES (?, ?)`),
			u.Username,
			u.APIKey,
		)
		if txErr != nil {
			// Don't wrap the error: AddUser inspects it for unique
			// violations.
			return txErr
		}

		added = 1

		return nil
	})
	if err != nil {
		return 0, err
	}

	return added, nil
}

// VerifyUser implements the [store.Interface] interface for *Store.
func (s *Store) VerifyUser(
	ctx context.Context,
	username string,
	apiKey string,
) (ok bool, err error) {
	var stored string
	err = s.db.GetContext(
		ctx,
		&stored,
		s.db.Rebind(`SELECT api_key FROM users WHERE username = ?`),
		username,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("verifying user %q: %w", username, err)
	}

	return keysEqual(stored, apiKey), nil
}

// keysEqual compares API keys in constant time.
func keysEqual(a, b string) (ok bool) {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ReclaimStale implements the [store.Interface] interface for *Store.
func (s *Store) ReclaimStale(
	ctx context.Context,
	olderThan time.Duration,
) (n int, err error) {
	if olderThan <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE test_results
		SET start_time = NULL
		WHERE start_time IS NOT NULL AND progress = ? AND start_time < ?
	`), zmb.ProgressNone, now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale tests: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reclaimed tests: %w", err)
	}

	if affected > 0 {
		s.logger.InfoContext(ctx, "reclaimed stale tests", "count", affected)
	}

	return int(affected), nil
}
