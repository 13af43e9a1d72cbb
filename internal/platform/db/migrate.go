package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the idempotent DDL of the service.
//
//go:embed schema.sql
var Schema string

// Migrate applies Schema inside a single transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, Schema)
		return err
	}); err != nil {
		return fmt.Errorf("platform/db: migrate: %w", err)
	}
	return nil
}
