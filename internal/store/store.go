// Package store defines the durable job store of the broker: tests, batches,
// users, and results, together with the claim protocol external test agents
// use to pick up work.
//
// The interface behaves identically across backends.  Backend differences in
// autoincrement syntax, unique-violation signaling, and the primitive used to
// serialize claims are isolated inside the implementations; no driver error
// ever reaches a caller.
package store

import (
	"context"
	"time"

	"github.com/zonemaster/zmbroker/internal/zmb"
)

// Interface is the job store interface.
type Interface interface {
	// CreateTest persists a test or returns the identifier of a reusable
	// one.  Two concurrent calls with the same fingerprint return the same
	// identifier.
	CreateTest(ctx context.Context, req *CreateTestRequest) (id zmb.TestID, err error)

	// ClaimNext atomically selects the highest-priority, lowest-id waiting
	// test on queue, marks it started, and returns its identifier.  ok is
	// false when there is nothing to claim or maxRunning tests are already
	// running on the queue.  A claimed test is never handed out again.
	ClaimNext(ctx context.Context, queue, maxRunning int) (id zmb.TestID, ok bool, err error)

	// SetProgress records progress for a test.  Values below the current
	// progress are a no-op.  Reaching [zmb.ProgressDone] also sets the end
	// time in the same commit, after which the progress never changes.
	SetProgress(ctx context.Context, id zmb.TestID, progress int) (err error)

	// StoreResults atomically stores the result document of a claimed test.
	// Engine-internal debug entries are filtered out here, so every reader
	// sees the same set.  Storing results for a test that was never claimed
	// returns [zmb.ErrNotStarted].
	StoreResults(ctx context.Context, id zmb.TestID, entries []*zmb.ResultEntry) (err error)

	// ReadTest returns the test with the given identifier.
	ReadTest(ctx context.Context, id zmb.TestID) (t *zmb.Test, err error)

	// History lists finished or running tests for a domain, newest first.
	History(ctx context.Context, req *HistoryRequest) (entries []*zmb.HistoryEntry, err error)

	// CreateBatch verifies the user credentials, checks that the user has no
	// open batch, and creates the batch with one test per domain, all in one
	// transaction.
	CreateBatch(ctx context.Context, req *CreateBatchRequest) (batchID uint64, err error)

	// BatchStatus returns the derived completion state of a batch.
	BatchStatus(ctx context.Context, batchID uint64) (st *zmb.BatchStatus, err error)

	// AddUser registers a batch user.  added is 1 on first insert and 0 when
	// the same pair is already registered.  A registered username with a
	// different key returns 0 and a [*zmb.UserExistsError].
	AddUser(ctx context.Context, u *zmb.User) (added int, err error)

	// VerifyUser checks the credentials, comparing keys in constant time.
	VerifyUser(ctx context.Context, username, apiKey string) (ok bool, err error)

	// ReclaimStale clears the start time of tests that were claimed more
	// than olderThan ago and made no progress, so that ClaimNext can hand
	// them out again.  It returns the number of reclaimed tests.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (n int, err error)
}

// CreateTestRequest is the argument of [Interface.CreateTest].
type CreateTestRequest struct {
	// Params is the normalized test parameter object.
	Params *zmb.TestParams

	// Fingerprint is the deduplication key of Params.
	Fingerprint zmb.Fingerprint

	// ReuseWindow is the duration within which an earlier test with the same
	// fingerprint is reused.  An unfinished earlier test is reused
	// regardless of the window.
	ReuseWindow time.Duration

	// BatchID ties the test to a batch, or is zero for direct submissions.
	BatchID uint64

	// Priority and Queue are the scheduling parameters of the test.
	Priority int
	Queue    int
}

// HistoryRequest is the argument of [Interface.History].
type HistoryRequest struct {
	// Domain is the normalized domain the history concerns.
	Domain string

	// Filter selects tests by their undelegated flag.
	Filter zmb.HistoryFilter

	// Offset is the number of entries to skip.
	Offset int

	// Limit is the maximum number of entries to return.
	Limit int
}

// CreateBatchRequest is the argument of [Interface.CreateBatch].
type CreateBatchRequest struct {
	// Params is the normalized per-test parameter object.  Its Domain field
	// is ignored; one test is created per entry of Domains.
	Params *zmb.TestParams

	// Username and APIKey are the credentials of the submitting user.
	Username string
	APIKey   string

	// Domains are the normalized domains to create tests for.
	Domains []string

	// Priority and Queue apply to every created test.
	Priority int
	Queue    int
}
