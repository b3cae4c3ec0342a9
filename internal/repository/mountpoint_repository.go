package repository

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/lares/internal/domain"
)

// MountPointRepository stores the mount points declared by hosts
type MountPointRepository interface {
	// Upsert inserts mp or updates the existing (host, mount point) row in
	// place. The boolean is true when a row was inserted.
	Upsert(ctx context.Context, mp domain.MountPoint) (domain.MountPoint, bool, error)
	FindByHostID(ctx context.Context, hostID int64) ([]domain.MountPoint, error)
}

type mountPointRepositoryImpl struct {
	db DBTX
}

// NewMountPointRepository creates a new mount point repository
func NewMountPointRepository(db DBTX) MountPointRepository {
	return &mountPointRepositoryImpl{db: db}
}

// Upsert creates or updates a mount point keyed by (host_id, mount_point)
func (r *mountPointRepositoryImpl) Upsert(ctx context.Context, mp domain.MountPoint) (domain.MountPoint, bool, error) {
	if mp.HostID == 0 || mp.MountPoint == "" {
		return domain.MountPoint{}, false, fmt.Errorf("host and mount point are required: %w", ErrInvalidEntity)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO mount_points (host_id, mount_point, device, fs_type, options)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(host_id, mount_point) DO NOTHING`,
		mp.HostID, mp.MountPoint, mp.Device, mp.FSType, mp.Options)
	if err != nil {
		return domain.MountPoint{}, false, fmt.Errorf("failed to create mount point: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.MountPoint{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted == 0 {
		_, err = r.db.ExecContext(ctx, `
			UPDATE mount_points SET device = ?, fs_type = ?, options = ?
			WHERE host_id = ? AND mount_point = ?`,
			mp.Device, mp.FSType, mp.Options, mp.HostID, mp.MountPoint)
		if err != nil {
			return domain.MountPoint{}, false, fmt.Errorf("failed to update mount point: %w", err)
		}
	}

	err = r.db.QueryRowContext(ctx,
		"SELECT id FROM mount_points WHERE host_id = ? AND mount_point = ?",
		mp.HostID, mp.MountPoint).Scan(&mp.ID)
	if err != nil {
		return domain.MountPoint{}, false, fmt.Errorf("failed to retrieve mount point: %w", err)
	}
	return mp, inserted > 0, nil
}

// FindByHostID lists the mount points of a host ordered by path
func (r *mountPointRepositoryImpl) FindByHostID(ctx context.Context, hostID int64) ([]domain.MountPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, host_id, mount_point, device, fs_type, options
		FROM mount_points WHERE host_id = ? ORDER BY mount_point ASC`, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mount points for host %d: %w", hostID, err)
	}
	return collect(rows, "mount point", func(row rowScanner) (domain.MountPoint, error) {
		var mp domain.MountPoint
		err := row.Scan(&mp.ID, &mp.HostID, &mp.MountPoint, &mp.Device, &mp.FSType, &mp.Options)
		return mp, err
	})
}
