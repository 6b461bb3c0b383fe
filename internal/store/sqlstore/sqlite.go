package sqlstore

import (
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// sqliteDialect is the embedded single-file backend.
//
// SQLite has no row locking, so claim transactions are serialized in process
// and started in immediate mode, which takes the database write lock up
// front.  With a single broker process per database file this makes ClaimNext
// linearizable.
type sqliteDialect struct{}

// type check
var _ dialect = (*sqliteDialect)(nil)

// name implements the [dialect] interface for *sqliteDialect.
func (*sqliteDialect) name() (s string) { return engineSQLite }

// driver implements the [dialect] interface for *sqliteDialect.
func (*sqliteDialect) driver() (s string) { return "sqlite3" }

// gooseDialect implements the [dialect] interface for *sqliteDialect.
func (*sqliteDialect) gooseDialect() (s string) { return "sqlite3" }

// prepareDSN implements the [dialect] interface for *sqliteDialect.  Write
// transactions start immediately and contended opens wait instead of failing.
func (*sqliteDialect) prepareDSN(dsn string) (prepared string) {
	if strings.Contains(dsn, "?") {
		return dsn
	}

	return dsn + "?_txlock=immediate&_busy_timeout=10000"
}

// isUniqueViolation implements the [dialect] interface for *sqliteDialect.
func (*sqliteDialect) isUniqueViolation(err error) (ok bool) {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}

	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// claimSuffix implements the [dialect] interface for *sqliteDialect.
func (*sqliteDialect) claimSuffix() (s string) { return "" }

// claimLock implements the [dialect] interface for *sqliteDialect.  The
// in-process mutex and immediate transactions already serialize claims.
func (*sqliteDialect) claimLock() (setup, lock string) { return "", "" }

// serializeClaims implements the [dialect] interface for *sqliteDialect.
func (*sqliteDialect) serializeClaims() (ok bool) { return true }

// returning implements the [dialect] interface for *sqliteDialect.
func (*sqliteDialect) returning() (ok bool) { return false }
