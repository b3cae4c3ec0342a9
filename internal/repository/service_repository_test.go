package repository

import (
	"context"
	"testing"

	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRepository_ClaimHostname(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestServiceRepository_ClaimHostname")
	defer cleanup()

	repo := NewServiceRepository(db)
	ctx := context.Background()

	_, err := repo.FindOwner(ctx, "mail.example.org")
	assert.ErrorIs(t, err, ErrNotFound)

	owner, err := repo.ClaimHostname(ctx, "mail.example.org", "mx01.example.org")
	require.NoError(t, err)
	assert.Equal(t, "mx01.example.org", owner)

	// A second host cannot steal the claim
	owner, err = repo.ClaimHostname(ctx, "mail.example.org", "mx02.example.org")
	require.NoError(t, err)
	assert.Equal(t, "mx01.example.org", owner)
}

func TestServiceRepository_Upsert(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestServiceRepository_Upsert")
	defer cleanup()

	repo := NewServiceRepository(db)
	ctx := context.Background()

	svc := domain.Service{
		FQDN:        "mx01.example.org",
		Scheme:      "https",
		Hostname:    "mail.example.org",
		Port:        443,
		Protocol:    domain.ProtocolTCP,
		Description: "webmail",
		Encryption:  domain.EncryptionTLS,
		Role:        domain.RoleService,
	}
	first, created, err := repo.Upsert(ctx, svc)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "webmail", first.Description)

	svc.Description = "webmail v2"
	svc.KerberosService = "HTTP"
	second, created, err := repo.Upsert(ctx, svc)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "webmail v2", second.Description)
	assert.Equal(t, "HTTP", second.KerberosService)

	owned, err := repo.FindByOwner(ctx, "mx01.example.org")
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestServiceRepository_FindBySchemes(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestServiceRepository_FindBySchemes")
	defer cleanup()

	repo := NewServiceRepository(db)
	ctx := context.Background()

	for _, svc := range []domain.Service{
		{FQDN: "infra.example.org", Scheme: "dns", Hostname: "ns.example.org", Port: 53, Protocol: domain.ProtocolUDP},
		{FQDN: "infra.example.org", Scheme: "ntp", Hostname: "time.example.org", Port: 123, Protocol: domain.ProtocolUDP},
		{FQDN: "infra.example.org", Scheme: "https", Hostname: "www.example.org", Port: 443, Protocol: domain.ProtocolTCP},
	} {
		svc.Encryption = domain.EncryptionNone
		svc.Role = domain.RoleService
		_, _, err := repo.Upsert(ctx, svc)
		require.NoError(t, err)
	}

	found, err := repo.FindBySchemes(ctx, "dns", "ntp", "tftp")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	none, err := repo.FindBySchemes(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestServiceRepository_Find_NotFound(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestServiceRepository_Find_NotFound")
	defer cleanup()

	_, err := NewServiceRepository(db).Find(context.Background(), ServiceKey{
		FQDN: "a.example.org", Scheme: "https", Hostname: "b.example.org", Port: 443, Protocol: domain.ProtocolTCP,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrincipalRepository_Create(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestPrincipalRepository_Create")
	defer cleanup()

	repo := NewPrincipalRepository(db)
	ctx := context.Background()

	p, err := repo.Create(ctx, "web01.example.org@EXAMPLE.ORG", "s3cret")
	require.NoError(t, err)
	assert.NotZero(t, p.ID)

	_, err = repo.Create(ctx, "web01.example.org@EXAMPLE.ORG", "other")
	assert.ErrorIs(t, err, ErrDuplicate)

	// The original secret is kept
	secret, err := repo.Secret(ctx, "web01.example.org@EXAMPLE.ORG")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)

	exists, err := repo.Exists(ctx, "web01.example.org@EXAMPLE.ORG")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.DeleteByName(ctx, "web01.example.org@EXAMPLE.ORG"))
	assert.ErrorIs(t, repo.DeleteByName(ctx, "web01.example.org@EXAMPLE.ORG"), ErrNotFound)
}

func TestDHCPRecordRepository_Upsert(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestDHCPRecordRepository_Upsert")
	defer cleanup()

	repo := NewDHCPRecordRepository(db)
	ctx := context.Background()

	_, created, err := repo.Upsert(ctx, domain.DHCPRecord{MACAddress: "52:54:00:00:00:01", IPAddress: "10.0.0.10", Hostname: "a.example.org"})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = repo.Upsert(ctx, domain.DHCPRecord{MACAddress: "52:54:00:00:00:01", IPAddress: "10.0.0.11", Hostname: "a.example.org"})
	require.NoError(t, err)
	assert.False(t, created)

	// Another hostname cannot take the MAC over
	_, _, err = repo.Upsert(ctx, domain.DHCPRecord{MACAddress: "52:54:00:00:00:01", IPAddress: "10.0.0.12", Hostname: "b.example.org"})
	assert.ErrorIs(t, err, ErrDuplicate)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "10.0.0.11", all[0].IPAddress)
	assert.Equal(t, "a.example.org", all[0].Hostname)
}
