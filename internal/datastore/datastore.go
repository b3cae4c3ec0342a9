package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jbweber/homelab/lares/internal/migrations"
	_ "modernc.org/sqlite"
)

// Datastore owns the SQLite handle shared by every repository.
type Datastore struct {
	DB *sql.DB
}

// New opens the database at dsn with foreign keys enforced on every pooled
// connection, and runs all migrations.
func New(dsn string) (*Datastore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Datastore{DB: db}, nil
}

// Migrate applies every pending migration to db.
func Migrate(db *sql.DB) error {
	n, err := migrations.NewMigrator(db, migrations.All()...).Up(context.Background())
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if n > 0 {
		slog.Info("database schema upgraded", "applied", n)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (ds *Datastore) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return WithTx(ctx, ds.DB, fn)
}

// WithTx runs fn inside a transaction on db, committing when fn returns nil.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Warn("failed to roll back transaction", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (ds *Datastore) Close() error {
	return ds.DB.Close()
}
