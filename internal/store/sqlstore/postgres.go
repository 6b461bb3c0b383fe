package sqlstore

import (
	"github.com/AdguardTeam/golibs/errors"
	"github.com/jackc/pgx/v5/pgconn"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique-constraint
// violations.
const pgUniqueViolation = "23505"

// postgresDialect is the PostgreSQL client-server backend.
//
// Claims rely on SELECT ... FOR UPDATE SKIP LOCKED: concurrent claimers skip
// each other's locked candidate rows, so each waiting test is observed by at
// most one of them.  A transaction-scoped advisory lock keyed by the queue
// tag serializes the whole claim, keeping the capacity check and the claim
// atomic with respect to other claimers.
type postgresDialect struct{}

// type check
var _ dialect = (*postgresDialect)(nil)

// name implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) name() (s string) { return enginePostgreSQL }

// driver implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) driver() (s string) { return "pgx" }

// gooseDialect implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) gooseDialect() (s string) { return "postgres" }

// prepareDSN implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) prepareDSN(dsn string) (prepared string) { return dsn }

// isUniqueViolation implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) isUniqueViolation(err error) (ok bool) {
	var perr *pgconn.PgError
	if !errors.As(err, &perr) {
		return false
	}

	return perr.Code == pgUniqueViolation
}

// claimSuffix implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) claimSuffix() (s string) { return " FOR UPDATE SKIP LOCKED" }

// claimLock implements the [dialect] interface for *postgresDialect.  The
// advisory lock is released automatically at the end of the transaction.
func (*postgresDialect) claimLock() (setup, lock string) {
	return "", "SELECT pg_advisory_xact_lock(?)"
}

// serializeClaims implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) serializeClaims() (ok bool) { return false }

// returning implements the [dialect] interface for *postgresDialect.
func (*postgresDialect) returning() (ok bool) { return true }
