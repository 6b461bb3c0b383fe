package sqlstore

import (
	"fmt"
	"strings"
)

// dialect isolates everything that differs between the supported backends:
// driver registration, DSN defaults, unique-violation detection, and the
// primitive that serializes claims.
type dialect interface {
	// name is the canonical backend name, also the migration directory.
	name() (s string)

	// driver is the database/sql driver name.
	driver() (s string)

	// gooseDialect is the migration tool's name for the backend.
	gooseDialect() (s string)

	// prepareDSN amends the configured DSN with the connection parameters
	// the store requires.
	prepareDSN(dsn string) (prepared string)

	// isUniqueViolation reports whether err is a unique-constraint
	// violation.  Drivers signal these differently; no driver error type
	// leaves this package.
	isUniqueViolation(err error) (ok bool)

	// claimSuffix is appended to the candidate query of ClaimNext.  On
	// backends with row locking it is "FOR UPDATE SKIP LOCKED"; on backends
	// without it, empty.
	claimSuffix() (s string)

	// claimLock returns the statements that serialize claim transactions on
	// one queue.  setup runs outside the claim transaction, lock inside it
	// before the capacity check; both take the queue tag as their only
	// argument, and an empty string means no statement.  Row locking alone
	// cannot bound the running count: two claimers reading the count
	// concurrently miss each other's uncommitted claims.
	claimLock() (setup, lock string)

	// serializeClaims reports whether claim transactions must additionally
	// be serialized in process.  True for SQLite, whose locking is
	// database-wide rather than per row.
	serializeClaims() (ok bool)

	// returning reports whether the backend supports the RETURNING clause
	// for reading generated keys, instead of LastInsertId.
	returning() (ok bool)
}

// Engine names accepted in the configuration.
const (
	engineSQLite     = "sqlite"
	enginePostgreSQL = "postgresql"
	engineMySQL      = "mysql"
)

// newDialect returns the dialect for the configured engine name.
func newDialect(engine string) (d dialect, err error) {
	switch strings.ToLower(engine) {
	case engineSQLite:
		return &sqliteDialect{}, nil
	case enginePostgreSQL:
		return &postgresDialect{}, nil
	case engineMySQL:
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown database engine %q", engine)
	}
}
