// Package zmb contains the common domain entities of the Zonemaster test
// request broker: tests, batches, users, severities, and the errors shared by
// the RPC surface and the store.
package zmb

import (
	"fmt"
	"regexp"
	"time"
)

// TestID is the external identifier of a test: sixteen lowercase hexadecimal
// characters derived from the test fingerprint.
type TestID string

// TestIDLen is the length of a valid [TestID].
const TestIDLen = 16

// testIDPat matches valid test IDs.
var testIDPat = regexp.MustCompile(`^[0-9a-f]{16}$`)

// NewTestID converts s into a TestID.
func NewTestID(s string) (id TestID, err error) {
	if !testIDPat.MatchString(s) {
		return "", &ArgumentError{
			Name:    "test_id",
			Message: fmt.Sprintf("bad test id %q", s),
		}
	}

	return TestID(s), nil
}

// Fingerprint is the 64-bit deduplication key of a test.  The same bits,
// printed as sixteen lowercase hexadecimal characters, form the [TestID].
type Fingerprint uint64

// TestID returns the external identifier corresponding to fp.
func (fp Fingerprint) TestID() (id TestID) {
	return TestID(fmt.Sprintf("%016x", uint64(fp)))
}

// Progress bounds.
const (
	ProgressNone = 0
	ProgressDone = 100
)

// Test is one DNS health-check invocation against one domain.
type Test struct {
	// CreatedAt is the time the test row was created.
	CreatedAt time.Time

	// StartedAt is the time of the first successful claim.  It is nil while
	// the test is waiting.
	StartedAt *time.Time

	// EndedAt is the time the test reached full progress.  It is nil until
	// then.
	EndedAt *time.Time

	// Params is the normalized parameter object of the test.
	Params *TestParams

	// Results holds the result entries.  It is nil until the test is
	// finished.
	Results []*ResultEntry

	// Domain is the tested domain in its normalized form.
	Domain string

	// ID is the external test identifier.
	ID TestID

	// Fingerprint is the deduplication key.
	Fingerprint Fingerprint

	// BatchID is the identifier of the batch the test belongs to, or zero
	// for direct submissions.
	BatchID uint64

	// SeqID is the surrogate sequential identifier used for listing.
	SeqID uint64

	// Progress is the current progress, between [ProgressNone] and
	// [ProgressDone].
	Progress int

	// Priority orders tests within a queue; higher runs sooner.
	Priority int

	// Queue is the integer tag partitioning tests across agent pools.
	Queue int

	// Undelegated is true if the submission carried any nameserver or
	// DS-info overrides.
	Undelegated bool
}

// Finished reports whether t has reached full progress.
func (t *Test) Finished() (ok bool) {
	return t.Progress >= ProgressDone
}

// Batch is a user-scoped group of tests submitted together.
type Batch struct {
	// CreatedAt is the time the batch was created.
	CreatedAt time.Time

	// Username is the name of the creating user.
	Username string

	// ID is the strictly positive batch identifier.
	ID uint64
}

// BatchStatus is the derived completion state of a batch.
type BatchStatus struct {
	// FinishedTestIDs are the identifiers of the finished tests of the
	// batch.
	FinishedTestIDs []TestID

	// NumRunning is the number of tests with progress below full.
	NumRunning int

	// NumFinished is the number of finished tests.
	NumFinished int
}
