package repository

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/lares/internal/domain"
)

// DHCPRecordRepository stores fixed-address bindings
type DHCPRecordRepository interface {
	// Upsert binds rec.MACAddress to rec.IPAddress, replacing the previous
	// binding of that MAC when it belongs to the same hostname. A MAC bound to
	// another hostname wraps ErrDuplicate. The boolean is true when a row was
	// inserted.
	Upsert(ctx context.Context, rec domain.DHCPRecord) (domain.DHCPRecord, bool, error)
	FindAll(ctx context.Context) ([]domain.DHCPRecord, error)
}

type dhcpRecordRepositoryImpl struct {
	db DBTX
}

// NewDHCPRecordRepository creates a new DHCP record repository
func NewDHCPRecordRepository(db DBTX) DHCPRecordRepository {
	return &dhcpRecordRepositoryImpl{db: db}
}

// Upsert creates or updates a binding keyed by MAC address and owned by hostname
func (r *dhcpRecordRepositoryImpl) Upsert(ctx context.Context, rec domain.DHCPRecord) (domain.DHCPRecord, bool, error) {
	if rec.MACAddress == "" || rec.IPAddress == "" {
		return domain.DHCPRecord{}, false, fmt.Errorf("mac and ip address are required: %w", ErrInvalidEntity)
	}

	res, err := r.db.ExecContext(ctx,
		"INSERT INTO dhcp_records (mac_address, ip_address, hostname) VALUES (?, ?, ?) ON CONFLICT(mac_address) DO NOTHING",
		rec.MACAddress, rec.IPAddress, rec.Hostname)
	if err != nil {
		return domain.DHCPRecord{}, false, fmt.Errorf("failed to create dhcp record: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.DHCPRecord{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		res, err := r.db.ExecContext(ctx,
			"UPDATE dhcp_records SET ip_address = ? WHERE mac_address = ? AND hostname = ?",
			rec.IPAddress, rec.MACAddress, rec.Hostname)
		if err != nil {
			return domain.DHCPRecord{}, false, fmt.Errorf("failed to update dhcp record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.DHCPRecord{}, false, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return domain.DHCPRecord{}, false, fmt.Errorf("mac %s is bound to another host: %w", rec.MACAddress, ErrDuplicate)
		}
	}

	if err := r.db.QueryRowContext(ctx, "SELECT id FROM dhcp_records WHERE mac_address = ?", rec.MACAddress).Scan(&rec.ID); err != nil {
		return domain.DHCPRecord{}, false, fmt.Errorf("failed to retrieve dhcp record: %w", err)
	}
	return rec, inserted > 0, nil
}

// FindAll lists every binding ordered by hostname
func (r *dhcpRecordRepositoryImpl) FindAll(ctx context.Context) ([]domain.DHCPRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, mac_address, ip_address, hostname FROM dhcp_records ORDER BY hostname ASC, mac_address ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list dhcp records: %w", err)
	}
	return collect(rows, "dhcp record", func(row rowScanner) (domain.DHCPRecord, error) {
		var rec domain.DHCPRecord
		err := row.Scan(&rec.ID, &rec.MACAddress, &rec.IPAddress, &rec.Hostname)
		return rec, err
	})
}
