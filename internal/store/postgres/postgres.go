// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by one shard's PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the shard database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetSearch(ctx context.Context, libraryID, searchID int64) (*model.SavedSearch, error) {
	return queryGetSearch(ctx, s.db, libraryID, searchID)
}

func (s *PostgresStore) GetSearchByKey(ctx context.Context, libraryID int64, key string) (*model.SavedSearch, error) {
	return queryGetSearchByKey(ctx, s.db, libraryID, key)
}

func (s *PostgresStore) ListSearches(ctx context.Context, libraryID int64, params model.SearchParams) (*model.SearchResults, error) {
	return queryListSearches(ctx, s.db, libraryID, params)
}

// SaveSearch runs the version bump, row write and condition replacement in
// a single transaction.
func (s *PostgresStore) SaveSearch(ctx context.Context, search *model.SavedSearch, userID int64) (bool, error) {
	var changed bool
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		changed, err = tx.SaveSearch(ctx, search, userID)
		return err
	})
	return changed, err
}

func (s *PostgresStore) DeleteSearch(ctx context.Context, libraryID int64, key string) (int64, error) {
	var version int64
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		version, err = tx.DeleteSearch(ctx, libraryID, key)
		return err
	})
	return version, err
}

func (s *PostgresStore) LibraryVersion(ctx context.Context, libraryID int64) (int64, error) {
	return queryLibraryVersion(ctx, s.db, libraryID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) GetSearch(ctx context.Context, libraryID, searchID int64) (*model.SavedSearch, error) {
	return queryGetSearch(ctx, s.tx, libraryID, searchID)
}

func (s *txStore) GetSearchByKey(ctx context.Context, libraryID int64, key string) (*model.SavedSearch, error) {
	return queryGetSearchByKey(ctx, s.tx, libraryID, key)
}

func (s *txStore) ListSearches(ctx context.Context, libraryID int64, params model.SearchParams) (*model.SearchResults, error) {
	return queryListSearches(ctx, s.tx, libraryID, params)
}

func (s *txStore) SaveSearch(ctx context.Context, search *model.SavedSearch, userID int64) (bool, error) {
	return querySaveSearch(ctx, s.tx, search, userID)
}

func (s *txStore) DeleteSearch(ctx context.Context, libraryID int64, key string) (int64, error) {
	return queryDeleteSearch(ctx, s.tx, libraryID, key)
}

func (s *txStore) LibraryVersion(ctx context.Context, libraryID int64) (int64, error) {
	return queryLibraryVersion(ctx, s.tx, libraryID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Ping is a no-op inside a transaction.
func (s *txStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
