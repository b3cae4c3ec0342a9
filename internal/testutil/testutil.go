package testutil

import (
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jbweber/homelab/lares/internal/datastore"
	_ "modernc.org/sqlite"
)

// CleanupTestDB removes the file behind a file: DSN. Memory databases have
// no file, so a missing path is not an error.
func CleanupTestDB(dsn string) error {
	path, ok := strings.CutPrefix(dsn, "file:")
	if !ok {
		return errors.New("dsn must use the file: scheme")
	}
	path, _, _ = strings.Cut(path, "?")

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SetupTestDB opens an empty database named after the test, with foreign
// keys enforced on every connection.
func SetupTestDB(t *testing.T, testName string) (*sql.DB, func()) {
	t.Helper()
	dsn := NewTestDSN(testName)

	db, err := sql.Open("sqlite", dsn+"&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	return db, func() {
		db.Close()
		if err := CleanupTestDB(dsn); err != nil {
			t.Logf("cleanup %s: %v", dsn, err)
		}
	}
}

// SetupTestDBWithMigrations is SetupTestDB with the full lares schema applied.
func SetupTestDBWithMigrations(t *testing.T, testName string) (*sql.DB, func()) {
	t.Helper()
	db, cleanup := SetupTestDB(t, testName)
	if err := datastore.Migrate(db); err != nil {
		cleanup()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db, cleanup
}

// NewDatastore returns a migrated in-memory datastore closed at test end.
func NewDatastore(t *testing.T) *datastore.Datastore {
	t.Helper()
	ds, err := datastore.New(NewTestDSN(t.Name()))
	if err != nil {
		t.Fatalf("failed to create test datastore: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}
