package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count))
	return count == 1
}

func TestMigrator_Up(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, All()...)

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(All()), n)

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), version)

	for _, table := range []string{"principals", "hosts", "mount_points", "services", "service_hostnames", "domains", "records", "dhcp_records", "schema_migrations"} {
		assert.True(t, tableExists(t, db, table), "table %s", table)
	}

	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, len(All()))
	assert.Equal(t, "create_dns_tables", applied[2].Name)
	assert.NotEmpty(t, applied[2].AppliedAt)
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := NewMigrator(db, All()...).Up(ctx)
	require.NoError(t, err)

	n, err := NewMigrator(db, All()...).Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := NewMigrator(db, All()...).Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewMigrator_Sorts(t *testing.T) {
	m := NewMigrator(nil,
		Migration{Version: 3, Name: "third"},
		Migration{Version: 1, Name: "first"},
		Migration{Version: 2, Name: "second"},
	)

	var versions []int64
	for _, mig := range m.Migrations() {
		versions = append(versions, mig.Version)
	}
	assert.Equal(t, []int64{1, 2, 3}, versions)
}

func TestMigrator_DuplicateVersion(t *testing.T) {
	db := openTestDB(t)
	noop := func(*sql.Tx) error { return nil }

	_, err := NewMigrator(db,
		Migration{Version: 1, Name: "a", Up: noop},
		Migration{Version: 1, Name: "b", Up: noop},
	).Up(context.Background())
	assert.Error(t, err)
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, Migration{
		Version: 1,
		Name:    "broken",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE broken (")
			return err
		},
	})

	n, err := m.Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Zero(t, n)

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func TestMigrator_Down(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, GetInitialMigrations()...)
	_, err := m.Up(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Down(ctx))

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
	assert.False(t, tableExists(t, db, "dhcp_records"))

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "create_dhcp_records_table", pending[0].Name)
}

func TestMigrator_Down_Empty(t *testing.T) {
	m := NewMigrator(openTestDB(t), All()...)
	assert.NoError(t, m.Down(context.Background()))
}

func TestMigrator_Down_Irreversible(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, Migration{
		Version: 1,
		Name:    "one_way",
		Up:      func(*sql.Tx) error { return nil },
	})
	_, err := m.Up(ctx)
	require.NoError(t, err)

	err = m.Down(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be reverted")
}

func TestGetIndexMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, All()...)
	_, err := m.Up(ctx)
	require.NoError(t, err)

	for _, idx := range lookupIndexes {
		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx.name).Scan(&count))
		assert.Equal(t, 1, count, idx.name)
	}

	require.NoError(t, m.Down(ctx))
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_%'").Scan(&count))
	assert.Zero(t, count)
}
