// Package photodb persists photos and meetings in PostgreSQL/PostGIS.
//
// All cluster-driven mutation funnels through ReconcileMeetings, which runs in
// a single transaction guarded by a per-group advisory lock, so at most one
// reconciliation per group is ever in flight.
package photodb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// acquireGroupLock takes the transaction-scoped advisory lock for a group.
// Postgres releases it automatically at commit or rollback. Every write path
// that touches a group's meetings goes through this lock.
func acquireGroupLock(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		groupID.String(),
	); err != nil {
		return fmt.Errorf("acquire group lock: %w", err)
	}
	return nil
}
