package devices

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry stores registrations in the device_tokens table. It uses
// the prepared statements registered by package db.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a registry backed by pool.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

// FindAll returns every registration, oldest first.
func (r *PostgresRegistry) FindAll(ctx context.Context) ([]Registration, error) {
	rows, err := r.pool.Query(ctx, "device_tokens_all")
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		var reg Registration
		if err := rows.Scan(&reg.Token, &reg.Email, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// Exists reports whether token is registered.
func (r *PostgresRegistry) Exists(ctx context.Context, token string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, "device_token_exists", token).Scan(&exists); err != nil {
		return false, fmt.Errorf("check device token: %w", err)
	}
	return exists, nil
}

// Create inserts reg. A token that is already present yields ErrDuplicateToken.
func (r *PostgresRegistry) Create(ctx context.Context, reg Registration) error {
	tag, err := r.pool.Exec(ctx, "device_token_insert", reg.Token, reg.Email, reg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert device token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateToken
	}
	return nil
}

// Ping verifies the database is reachable.
func (r *PostgresRegistry) Ping(ctx context.Context) error {
	var n int
	return r.pool.QueryRow(ctx, "health_check").Scan(&n)
}
