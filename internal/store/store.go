// Package store is the persistence gateway: a narrow set of operations
// over inbound_emails, webhook_subscriptions, and
// webhook_deliveries.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool and exposes the operations other
// components depend on.
type Store struct {
	pool *pgxpool.Pool
}

// New builds a Store over an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
