package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Migration is one versioned schema step. Down may be nil for steps that
// cannot be reverted.
type Migration struct {
	Version int64
	Name    string
	Up      func(*sql.Tx) error
	Down    func(*sql.Tx) error
}

// Applied is a row of schema_migrations.
type Applied struct {
	Version   int64
	Name      string
	AppliedAt string
}

// Migrator applies an ordered set of migrations to a database, recording
// each in schema_migrations inside the same transaction as its Up.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator returns a migrator for migrations, sorted by version.
func NewMigrator(db *sql.DB, migrations ...Migration) *Migrator {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{db: db, migrations: sorted}
}

// All returns every migration of the lares schema.
func All() []Migration {
	return append(GetInitialMigrations(), GetIndexMigrations()...)
}

// Migrations returns the registered migrations in version order.
func (m *Migrator) Migrations() []Migration {
	return m.migrations
}

// Up applies every migration newer than the current version and returns how
// many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for i, mig := range pending {
		if mig.Up == nil {
			return i, fmt.Errorf("migration %d (%s) has no up step", mig.Version, mig.Name)
		}
		err := m.inTx(ctx, func(tx *sql.Tx) error {
			if err := mig.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return i, fmt.Errorf("failed to run migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		slog.Debug("applied migration", "version", mig.Version, "name", mig.Name)
	}
	return len(pending), nil
}

// Pending lists the registered migrations not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	for i := 1; i < len(m.migrations); i++ {
		if m.migrations[i].Version == m.migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", m.migrations[i].Version)
		}
	}
	current, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Down reverts the most recently applied migration. It is a no-op on an
// empty schema.
func (m *Migrator) Down(ctx context.Context) error {
	current, err := m.Version(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return nil
	}

	idx := sort.Search(len(m.migrations), func(i int) bool { return m.migrations[i].Version >= current })
	if idx == len(m.migrations) || m.migrations[idx].Version != current {
		return fmt.Errorf("migration %d is not registered", current)
	}
	mig := m.migrations[idx]
	if mig.Down == nil {
		return fmt.Errorf("migration %d (%s) cannot be reverted", mig.Version, mig.Name)
	}
	return m.inTx(ctx, func(tx *sql.Tx) error {
		if err := mig.Down(tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", mig.Version)
		return err
	})
}

// Version returns the highest applied version, 0 for a fresh database.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	var version int64
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Applied lists the recorded migrations in version order.
func (m *Migrator) Applied(ctx context.Context) ([]Applied, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, "SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Warn("migration rollback failed", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
