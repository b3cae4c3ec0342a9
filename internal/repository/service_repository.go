package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jbweber/homelab/lares/internal/domain"
)

// ServiceKey is the compound identity of a service row.
type ServiceKey struct {
	FQDN     string
	Scheme   string
	Hostname string
	Port     int
	Protocol domain.Protocol
}

// ServiceRepository defines domain-specific operations for services
type ServiceRepository interface {
	// FindOwner returns the fqdn owning a public service hostname.
	FindOwner(ctx context.Context, hostname string) (string, error)
	// ClaimHostname atomically records fqdn as owner of hostname unless
	// another fqdn already owns it, and returns the resulting owner.
	ClaimHostname(ctx context.Context, hostname, fqdn string) (string, error)
	// Upsert gets or creates the row for the service key and overwrites its
	// mutable attributes. The boolean is true when the row was inserted.
	Upsert(ctx context.Context, svc domain.Service) (domain.Service, bool, error)
	Find(ctx context.Context, key ServiceKey) (domain.Service, error)
	FindByOwner(ctx context.Context, fqdn string) ([]domain.Service, error)
	FindBySchemes(ctx context.Context, schemes ...string) ([]domain.Service, error)
}

type serviceRepositoryImpl struct {
	db    DBTX
	stmts *stmtCache
}

const serviceColumns = "id, fqdn, scheme, hostname, port, protocol, kerberos_service, description, dns_srv, encryption, role"

// NewServiceRepository creates a new service repository
func NewServiceRepository(db DBTX) ServiceRepository {
	return &serviceRepositoryImpl{db: db, stmts: newStmtCache(db)}
}

func scanService(row rowScanner) (domain.Service, error) {
	var s domain.Service
	err := row.Scan(&s.ID, &s.FQDN, &s.Scheme, &s.Hostname, &s.Port, &s.Protocol,
		&s.KerberosService, &s.Description, &s.DNSSRV, &s.Encryption, &s.Role)
	return s, err
}

// FindOwner retrieves the owning fqdn of a service hostname
func (r *serviceRepositoryImpl) FindOwner(ctx context.Context, hostname string) (string, error) {
	var owner string
	err := r.stmts.queryRow(ctx, "SELECT fqdn FROM service_hostnames WHERE hostname = ?", hostname).Scan(&owner)
	if err != nil {
		return "", lookupErr(err, "service hostname "+hostname, "find service hostname owner")
	}
	return owner, nil
}

// ClaimHostname inserts the ownership row if absent and returns the owner
func (r *serviceRepositoryImpl) ClaimHostname(ctx context.Context, hostname, fqdn string) (string, error) {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO service_hostnames (hostname, fqdn) VALUES (?, ?) ON CONFLICT(hostname) DO NOTHING",
		hostname, fqdn)
	if err != nil {
		return "", fmt.Errorf("failed to claim service hostname: %w", err)
	}
	return r.FindOwner(ctx, hostname)
}

// Upsert creates the service row if needed and updates its attributes
func (r *serviceRepositoryImpl) Upsert(ctx context.Context, svc domain.Service) (domain.Service, bool, error) {
	if svc.FQDN == "" || svc.Scheme == "" || svc.Hostname == "" {
		return domain.Service{}, false, fmt.Errorf("fqdn, scheme and hostname are required: %w", ErrInvalidEntity)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO services (fqdn, scheme, hostname, port, protocol)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fqdn, scheme, hostname, port, protocol) DO NOTHING`,
		svc.FQDN, svc.Scheme, svc.Hostname, svc.Port, svc.Protocol)
	if err != nil {
		return domain.Service{}, false, fmt.Errorf("failed to create service: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.Service{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// Mutable attributes are last-write-wins.
	_, err = r.db.ExecContext(ctx, `
		UPDATE services
		SET kerberos_service = ?, description = ?, dns_srv = ?, encryption = ?, role = ?
		WHERE fqdn = ? AND scheme = ? AND hostname = ? AND port = ? AND protocol = ?`,
		svc.KerberosService, svc.Description, svc.DNSSRV, svc.Encryption, svc.Role,
		svc.FQDN, svc.Scheme, svc.Hostname, svc.Port, svc.Protocol)
	if err != nil {
		return domain.Service{}, false, fmt.Errorf("failed to update service: %w", err)
	}

	saved, err := r.Find(ctx, ServiceKey{
		FQDN:     svc.FQDN,
		Scheme:   svc.Scheme,
		Hostname: svc.Hostname,
		Port:     svc.Port,
		Protocol: svc.Protocol,
	})
	if err != nil {
		return domain.Service{}, false, err
	}
	return saved, inserted > 0, nil
}

// Find retrieves a service by its compound identity
func (r *serviceRepositoryImpl) Find(ctx context.Context, key ServiceKey) (domain.Service, error) {
	s, err := scanService(r.db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE fqdn = ? AND scheme = ? AND hostname = ? AND port = ? AND protocol = ?`,
		key.FQDN, key.Scheme, key.Hostname, key.Port, key.Protocol))
	if err != nil {
		subject := fmt.Sprintf("service %s://%s:%d/ on %s", key.Scheme, key.Hostname, key.Port, key.FQDN)
		return domain.Service{}, lookupErr(err, subject, "find service")
	}
	return s, nil
}

// FindByOwner lists every service registered by a host
func (r *serviceRepositoryImpl) FindByOwner(ctx context.Context, fqdn string) ([]domain.Service, error) {
	return r.query(ctx, "SELECT "+serviceColumns+" FROM services WHERE fqdn = ? ORDER BY id ASC", fqdn)
}

// FindBySchemes lists services whose scheme is one of schemes
func (r *serviceRepositoryImpl) FindBySchemes(ctx context.Context, schemes ...string) ([]domain.Service, error) {
	if len(schemes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(schemes)), ", ")
	args := make([]any, len(schemes))
	for i, s := range schemes {
		args[i] = s
	}
	return r.query(ctx, "SELECT "+serviceColumns+" FROM services WHERE scheme IN ("+placeholders+") ORDER BY id ASC", args...)
}

func (r *serviceRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.Service, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return collect(rows, "service", scanService)
}
