package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jbweber/homelab/lares/internal/domain"
)

// DomainRepository stores authoritative zones
type DomainRepository interface {
	// GetOrCreate returns the zone row, inserting it if absent. The boolean
	// is true when this call created it.
	GetOrCreate(ctx context.Context, name string) (domain.Domain, bool, error)
	FindByName(ctx context.Context, name string) (domain.Domain, error)
	FindAll(ctx context.Context) ([]domain.Domain, error)
}

// RecordRepository stores resource records
type RecordRepository interface {
	Create(ctx context.Context, rec domain.Record) (domain.Record, error)
	Update(ctx context.Context, rec domain.Record) error
	DeleteByID(ctx context.Context, id int64) error
	// FindByNameType lists records of one type for a name inside a zone.
	FindByNameType(ctx context.Context, domainID int64, name, recordType string) ([]domain.Record, error)
	// FindByContentPrefix returns the first record whose content starts
	// with prefix, or ErrNotFound.
	FindByContentPrefix(ctx context.Context, domainID int64, name, recordType, prefix string) (domain.Record, error)
	// FindAnyByNameType searches every zone, oldest record first.
	FindAnyByNameType(ctx context.Context, name, recordType string) ([]domain.Record, error)
	FindByDomain(ctx context.Context, domainID int64) ([]domain.Record, error)
}

type domainRepositoryImpl struct {
	db DBTX
}

type recordRepositoryImpl struct {
	db DBTX
}

// NewDomainRepository creates a new zone repository
func NewDomainRepository(db DBTX) DomainRepository {
	return &domainRepositoryImpl{db: db}
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepositoryImpl{db: db}
}

// GetOrCreate inserts the zone if absent and returns it
func (r *domainRepositoryImpl) GetOrCreate(ctx context.Context, name string) (domain.Domain, bool, error) {
	if name == "" {
		return domain.Domain{}, false, fmt.Errorf("zone name is required: %w", ErrInvalidEntity)
	}
	res, err := r.db.ExecContext(ctx, "INSERT INTO domains (name, type) VALUES (?, 'NATIVE') ON CONFLICT(name) DO NOTHING", name)
	if err != nil {
		return domain.Domain{}, false, fmt.Errorf("failed to create zone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Domain{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	d, err := r.FindByName(ctx, name)
	if err != nil {
		return domain.Domain{}, false, err
	}
	return d, n > 0, nil
}

// FindByName retrieves a zone by name
func (r *domainRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Domain, error) {
	var d domain.Domain
	err := r.db.QueryRowContext(ctx, "SELECT id, name, type FROM domains WHERE name = ?", name).Scan(&d.ID, &d.Name, &d.Type)
	if err != nil {
		return domain.Domain{}, lookupErr(err, "zone "+name, "find zone")
	}
	return d, nil
}

// FindAll lists every zone ordered by name
func (r *domainRepositoryImpl) FindAll(ctx context.Context) ([]domain.Domain, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, type FROM domains ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	return collect(rows, "zone", func(row rowScanner) (domain.Domain, error) {
		var d domain.Domain
		err := row.Scan(&d.ID, &d.Name, &d.Type)
		return d, err
	})
}

// Create inserts a record
func (r *recordRepositoryImpl) Create(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.DomainID == 0 || rec.Name == "" || rec.Type == "" {
		return domain.Record{}, fmt.Errorf("zone, name and type are required: %w", ErrInvalidEntity)
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO records (domain_id, name, type, content, ttl) VALUES (?, ?, ?, ?, ?)",
		rec.DomainID, rec.Name, rec.Type, rec.Content, rec.TTL)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to create %s record: %w", rec.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to get record ID: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// Update overwrites content and ttl of an existing record
func (r *recordRepositoryImpl) Update(ctx context.Context, rec domain.Record) error {
	res, err := r.db.ExecContext(ctx, "UPDATE records SET content = ?, ttl = ? WHERE id = ?", rec.Content, rec.TTL, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record with ID %d: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// DeleteByID removes a record
func (r *recordRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// FindByNameType lists records matching zone, name and type
func (r *recordRepositoryImpl) FindByNameType(ctx context.Context, domainID int64, name, recordType string) ([]domain.Record, error) {
	return r.query(ctx,
		"SELECT id, domain_id, name, type, content, ttl FROM records WHERE domain_id = ? AND name = ? AND type = ? ORDER BY id ASC",
		domainID, name, recordType)
}

// FindByContentPrefix finds a record by the leading characters of its content
func (r *recordRepositoryImpl) FindByContentPrefix(ctx context.Context, domainID int64, name, recordType, prefix string) (domain.Record, error) {
	// substr keeps the match literal; LIKE would treat % and _ specially.
	recs, err := r.query(ctx, `
		SELECT id, domain_id, name, type, content, ttl FROM records
		WHERE domain_id = ? AND name = ? AND type = ? AND substr(content, 1, ?) = ?
		ORDER BY id ASC LIMIT 1`,
		domainID, name, recordType, len(prefix), prefix)
	if err != nil {
		return domain.Record{}, err
	}
	if len(recs) == 0 {
		return domain.Record{}, fmt.Errorf("%s record %s %q: %w", recordType, name, strings.TrimSpace(prefix), ErrNotFound)
	}
	return recs[0], nil
}

// FindAnyByNameType lists matching records across all zones
func (r *recordRepositoryImpl) FindAnyByNameType(ctx context.Context, name, recordType string) ([]domain.Record, error) {
	return r.query(ctx,
		"SELECT id, domain_id, name, type, content, ttl FROM records WHERE name = ? AND type = ? ORDER BY id ASC",
		name, recordType)
}

// FindByDomain lists every record of a zone
func (r *recordRepositoryImpl) FindByDomain(ctx context.Context, domainID int64) ([]domain.Record, error) {
	return r.query(ctx,
		"SELECT id, domain_id, name, type, content, ttl FROM records WHERE domain_id = ? ORDER BY id ASC",
		domainID)
}

func (r *recordRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return collect(rows, "record", func(row rowScanner) (domain.Record, error) {
		var rec domain.Record
		err := row.Scan(&rec.ID, &rec.DomainID, &rec.Name, &rec.Type, &rec.Content, &rec.TTL)
		return rec, err
	})
}
