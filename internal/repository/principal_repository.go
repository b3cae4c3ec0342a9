package repository

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/lares/internal/domain"
)

// PrincipalRepository is the registry of principals issued by lares
type PrincipalRepository interface {
	// Create inserts the principal if absent; ErrDuplicate when it exists.
	Create(ctx context.Context, name, secret string) (domain.Principal, error)
	FindByName(ctx context.Context, name string) (domain.Principal, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Secret returns the stored key seed of a principal.
	Secret(ctx context.Context, name string) (string, error)
	DeleteByName(ctx context.Context, name string) error
}

type principalRepositoryImpl struct {
	db    DBTX
	stmts *stmtCache
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db DBTX) PrincipalRepository {
	return &principalRepositoryImpl{db: db, stmts: newStmtCache(db)}
}

// Create atomically inserts a principal row
func (r *principalRepositoryImpl) Create(ctx context.Context, name, secret string) (domain.Principal, error) {
	if name == "" {
		return domain.Principal{}, fmt.Errorf("principal name is required: %w", ErrInvalidEntity)
	}

	res, err := r.db.ExecContext(ctx,
		"INSERT INTO principals (name, secret) VALUES (?, ?) ON CONFLICT(name) DO NOTHING", name, secret)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("failed to create principal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Principal{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.Principal{}, fmt.Errorf("principal %s: %w", name, ErrDuplicate)
	}
	return r.FindByName(ctx, name)
}

// FindByName retrieves a principal by its exact name
func (r *principalRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Principal, error) {
	var p domain.Principal
	err := r.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM principals WHERE name = ?", name).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return domain.Principal{}, lookupErr(err, "principal "+name, "find principal")
	}
	return p, nil
}

// Exists reports whether a principal with this exact name is registered
func (r *principalRepositoryImpl) Exists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM principals WHERE name = ?", name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check principal existence: %w", err)
	}
	return count > 0, nil
}

// Secret retrieves the key seed of a principal
func (r *principalRepositoryImpl) Secret(ctx context.Context, name string) (string, error) {
	var secret string
	err := r.stmts.queryRow(ctx, "SELECT secret FROM principals WHERE name = ?", name).Scan(&secret)
	if err != nil {
		return "", lookupErr(err, "principal "+name, "read principal secret")
	}
	return secret, nil
}

// DeleteByName removes a principal row
func (r *principalRepositoryImpl) DeleteByName(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM principals WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete principal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("principal %s: %w", name, ErrNotFound)
	}
	return nil
}
