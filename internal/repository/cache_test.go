package repository

import (
	"context"
	"testing"

	"github.com/jbweber/homelab/lares/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStmtCache(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestStmtCache")
	defer cleanup()
	ctx := context.Background()

	repo := NewHostRepository(db).(*hostRepositoryImpl)
	_, _, err := repo.GetOrCreate(ctx, "web01.example.org")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h, err := repo.FindByFQDN(ctx, "web01.example.org")
		require.NoError(t, err)
		assert.Equal(t, "web01.example.org", h.FQDN)
	}
	assert.Equal(t, 1, repo.stmts.size())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	txRepo := NewHostRepository(tx).(*hostRepositoryImpl)
	_, err = txRepo.FindByFQDN(ctx, "web01.example.org")
	require.NoError(t, err)
	_, err = txRepo.FindByFQDN(ctx, "absent.example.org")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, txRepo.stmts.size())
}
