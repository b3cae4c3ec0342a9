package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
)

// stmtCache holds prepared statements for the lookups that run on every
// provisioning request (host by fqdn, hostname owner, principal secret).
// Statements are only cached against a *sql.DB; inside a transaction the
// query runs unprepared since the statement would die with the tx.
type stmtCache struct {
	db DBTX

	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

func newStmtCache(db DBTX) *stmtCache {
	return &stmtCache{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (c *stmtCache) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.RLock()
	stmt, ok := c.stmts[query]
	c.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = stmt
	return stmt, nil
}

// queryRow runs a single-row query, through a cached statement when possible.
func (c *stmtCache) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if _, ok := c.db.(*sql.DB); !ok {
		return c.db.QueryRowContext(ctx, query, args...)
	}
	stmt, err := c.prepared(ctx, query)
	if err != nil {
		slog.Debug("statement prepare failed, running unprepared", "error", err)
		return c.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// size reports how many statements are prepared.
func (c *stmtCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stmts)
}
