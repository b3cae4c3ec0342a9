package repository

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/lares/internal/domain"
)

// HostRepository stores registered hosts. Hosts are never deleted.
type HostRepository interface {
	FindAll(ctx context.Context) ([]domain.Host, error)
	FindByFQDN(ctx context.Context, fqdn string) (domain.Host, error)
	GetOrCreate(ctx context.Context, fqdn string) (domain.Host, bool, error)
	UpdateAddresses(ctx context.Context, id int64, ipAddress, macAddress string) error
}

// hostRepositoryImpl implements HostRepository
type hostRepositoryImpl struct {
	db    DBTX
	stmts *stmtCache
}

const hostColumns = "id, fqdn, main_ip_address, main_mac_address"

// NewHostRepository creates a new host repository
func NewHostRepository(db DBTX) HostRepository {
	return &hostRepositoryImpl{
		db:    db,
		stmts: newStmtCache(db),
	}
}

func scanHost(row rowScanner) (domain.Host, error) {
	var h domain.Host
	err := row.Scan(&h.ID, &h.FQDN, &h.MainIPAddress, &h.MainMACAddress)
	return h, err
}

// FindAll retrieves all hosts ordered by fqdn
func (r *hostRepositoryImpl) FindAll(ctx context.Context) ([]domain.Host, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+hostColumns+" FROM hosts ORDER BY fqdn ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	return collect(rows, "host", scanHost)
}

// FindByFQDN retrieves a host by its fully-qualified name
func (r *hostRepositoryImpl) FindByFQDN(ctx context.Context, fqdn string) (domain.Host, error) {
	h, err := scanHost(r.stmts.queryRow(ctx, "SELECT "+hostColumns+" FROM hosts WHERE fqdn = ?", fqdn))
	if err != nil {
		return domain.Host{}, lookupErr(err, "host "+fqdn, "find host by fqdn")
	}
	return h, nil
}

// GetOrCreate returns the host row for fqdn, inserting it if absent. The
// boolean reports whether this call created it.
func (r *hostRepositoryImpl) GetOrCreate(ctx context.Context, fqdn string) (domain.Host, bool, error) {
	if fqdn == "" {
		return domain.Host{}, false, fmt.Errorf("host fqdn is required: %w", ErrInvalidEntity)
	}

	res, err := r.db.ExecContext(ctx, "INSERT INTO hosts (fqdn) VALUES (?) ON CONFLICT(fqdn) DO NOTHING", fqdn)
	if err != nil {
		return domain.Host{}, false, fmt.Errorf("failed to create host: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Host{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	h, err := r.FindByFQDN(ctx, fqdn)
	if err != nil {
		return domain.Host{}, false, err
	}
	return h, n > 0, nil
}

// UpdateAddresses sets the main IP and MAC of a host; empty values leave the
// stored value untouched.
func (r *hostRepositoryImpl) UpdateAddresses(ctx context.Context, id int64, ipAddress, macAddress string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE hosts
		SET main_ip_address = CASE WHEN ? = '' THEN main_ip_address ELSE ? END,
			main_mac_address = CASE WHEN ? = '' THEN main_mac_address ELSE ? END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		ipAddress, ipAddress, macAddress, macAddress, id)
	if err != nil {
		return fmt.Errorf("failed to update host addresses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("host with ID %d: %w", id, ErrNotFound)
	}
	return nil
}
