package sqlstore

import (
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	mysql "github.com/go-sql-driver/mysql"
)

// myErrDupEntry is the MySQL error number for duplicate-key violations.
const myErrDupEntry = 1062

// mysqlDialect is the MySQL client-server backend.
//
// Like PostgreSQL, claims rely on SELECT ... FOR UPDATE SKIP LOCKED, which
// MySQL supports since 8.0.  MySQL has no transaction-scoped advisory locks,
// so claims on a queue are serialized by locking that queue's row in the
// claim_locks table; the row lock is released at the end of the transaction.
type mysqlDialect struct{}

// type check
var _ dialect = (*mysqlDialect)(nil)

// name implements the [dialect] interface for *mysqlDialect.
func (*mysqlDialect) name() (s string) { return engineMySQL }

// driver implements the [dialect] interface for *mysqlDialect.
func (*mysqlDialect) driver() (s string) { return "mysql" }

// gooseDialect implements the [dialect] interface for *mysqlDialect.
func (*mysqlDialect) gooseDialect() (s string) { return "mysql" }

// prepareDSN implements the [dialect] interface for *mysqlDialect.  The
// driver must parse timestamps into [time.Time] values.
func (*mysqlDialect) prepareDSN(dsn string) (prepared string) {
	if strings.Contains(dsn, "parseTime") {
		return dsn
	}

	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}

	return dsn + "?parseTime=true"
}

// isUniqueViolation implements the [dialect] interface for *mysqlDialect.
func (*mysqlDialect) isUniqueViolation(err error) (ok bool) {
	var merr *mysql.MySQLError
	if !errors.As(err, &merr) {
		return false
	}

	return merr.Number == myErrDupEntry
}

// claimSuffix implements the [dialect] interface for *mysqlDialect.
func (*mysqlDialect) claimSuffix() (s string) { return " FOR UPDATE SKIP LOCKED" }

// claimLock implements the [dialect] interface for *mysqlDialect.  The lock
// row is created outside the claim transaction: a conflicting insert inside
// it would take a shared lock on the existing row and deadlock with the
// exclusive lock below.
func (*mysqlDialect) claimLock() (setup, lock string) {
	setup = "INSERT IGNORE INTO claim_locks (queue) VALUES (?)"
	lock = "SELECT queue FROM claim_locks WHERE queue = ? FOR UPDATE"

	return setup, lock
}

// serializeClaims implements the [dialect] interface for *mysqlDialect.
func (*mysqlDialect) serializeClaims() (ok bool) { return false }

// returning implements the [dialect] interface for *mysqlDialect.
func (*mysqlDialect) returning() (ok bool) { return false }
