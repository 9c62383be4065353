package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the idempotent DDL for every table the stock services use.
//
//go:embed schema.sql
var Schema string

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("platform/db: migrate: %w", err)
	}
	return nil
}
