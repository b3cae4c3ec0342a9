package repository

import (
	"context"
	"testing"

	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostRepository_GetOrCreate(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestHostRepository_GetOrCreate")
	defer cleanup()

	repo := NewHostRepository(db)
	ctx := context.Background()

	first, created, err := repo.GetOrCreate(ctx, "web01.example.org")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	second, created, err := repo.GetOrCreate(ctx, "web01.example.org")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHostRepository_GetOrCreate_EmptyFQDN(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestHostRepository_GetOrCreate_EmptyFQDN")
	defer cleanup()

	_, _, err := NewHostRepository(db).GetOrCreate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestHostRepository_FindByFQDN(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestHostRepository_FindByFQDN")
	defer cleanup()

	repo := NewHostRepository(db)
	ctx := context.Background()

	saved, _, err := repo.GetOrCreate(ctx, "db01.example.org")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateAddresses(ctx, saved.ID, "10.0.0.5", ""))

	found, err := repo.FindByFQDN(ctx, "db01.example.org")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
	assert.Equal(t, "10.0.0.5", found.MainIPAddress)

	// Lookups are case-sensitive
	_, err = repo.FindByFQDN(ctx, "DB01.example.org")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHostRepository_UpdateAddresses(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestHostRepository_UpdateAddresses")
	defer cleanup()

	repo := NewHostRepository(db)
	ctx := context.Background()

	host, _, err := repo.GetOrCreate(ctx, "nas.example.org")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateAddresses(ctx, host.ID, "10.0.0.9", "52:54:00:aa:bb:cc"))
	// Empty values keep what is stored
	require.NoError(t, repo.UpdateAddresses(ctx, host.ID, "", ""))

	found, err := repo.FindByFQDN(ctx, "nas.example.org")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", found.MainIPAddress)
	assert.Equal(t, "52:54:00:aa:bb:cc", found.MainMACAddress)

	err = repo.UpdateAddresses(ctx, 9999, "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMountPointRepository_Upsert(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestMountPointRepository_Upsert")
	defer cleanup()

	hosts := NewHostRepository(db)
	repo := NewMountPointRepository(db)
	ctx := context.Background()

	host, _, err := hosts.GetOrCreate(ctx, "files.example.org")
	require.NoError(t, err)

	mp := domain.MountPoint{HostID: host.ID, MountPoint: "/data", Device: "/dev/sda1", FSType: "ext4", Options: "rw"}
	first, created, err := repo.Upsert(ctx, mp)
	require.NoError(t, err)
	assert.True(t, created)

	mp.Options = "ro"
	second, created, err := repo.Upsert(ctx, mp)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	mps, err := repo.FindByHostID(ctx, host.ID)
	require.NoError(t, err)
	require.Len(t, mps, 1)
	assert.Equal(t, "ro", mps[0].Options)
}

func TestMountPointRepository_Upsert_Invalid(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestMountPointRepository_Upsert_Invalid")
	defer cleanup()

	_, _, err := NewMountPointRepository(db).Upsert(context.Background(), domain.MountPoint{MountPoint: "/data"})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}
