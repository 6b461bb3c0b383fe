// Package sqlstore implements the job store on top of an SQL database.  The
// same code serves the embedded SQLite backend and the client-server
// PostgreSQL and MySQL backends; everything backend-specific lives in the
// dialect implementations.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/zonemaster/zmbroker/internal/metrics"
	"github.com/zonemaster/zmbroker/internal/store"
)

// migrationsFS holds the per-dialect schema migration scripts.
//
//go:embed migrations
var migrationsFS embed.FS

// Store is the SQL implementation of [store.Interface].
type Store struct {
	logger  *slog.Logger
	metrics *metrics.Store
	db      *sqlx.DB
	d       dialect

	// claimMu serializes claim transactions on backends whose dialect
	// requires it.  See [dialect.serializeClaims].
	claimMu *sync.Mutex
}

// Config is the [Store] configuration.
type Config struct {
	// Logger is used to log store operations.  It must not be nil.
	Logger *slog.Logger

	// Metrics records claim and creation metrics.  It must not be nil.
	Metrics *metrics.Store

	// Engine selects the backend: "sqlite", "postgresql", or "mysql".
	Engine string

	// DSN is the driver-specific data source name.
	DSN string
}

// type check
var _ store.Interface = (*Store)(nil)

// New opens the database, applies pending schema migrations, and returns the
// store.
func New(ctx context.Context, c *Config) (s *Store, err error) {
	d, err := newDialect(c.Engine)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	db, err := sqlx.Open(d.driver(), d.prepareDSN(c.DSN))
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", d.name(), err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s database: %w", d.name(), err)
	}

	s = &Store{
		logger:  c.Logger,
		metrics: c.Metrics,
		db:      db,
		d:       d,
		claimMu: &sync.Mutex{},
	}

	err = s.migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrating %s schema: %w", d.name(), err)
	}

	return s, nil
}

// migrate applies pending schema migrations for the configured dialect.
func (s *Store) migrate(ctx context.Context) (err error) {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	err = goose.SetDialect(s.d.gooseDialect())
	if err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}

	err = goose.UpContext(ctx, s.db.DB, "migrations/"+s.d.name())
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() (err error) {
	return s.db.Close()
}

// inTx runs f inside a transaction, committing on success and rolling back on
// error.
func (s *Store) inTx(ctx context.Context, f func(tx *sqlx.Tx) (err error)) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, ignoreTxDone(tx.Rollback()))
		}
	}()

	err = f(tx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	return tx.Commit()
}

// ignoreTxDone filters out the error a rollback returns after a failed
// commit.
func ignoreTxDone(err error) (res error) {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

// now returns the current time in UTC, truncated to microseconds to stay
// within the timestamp precision of every backend.
func now() (t time.Time) {
	return time.Now().UTC().Truncate(time.Microsecond)
}
