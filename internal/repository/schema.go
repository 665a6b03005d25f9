package repository

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed migrations/schema.sql
var schemaSQL string

// Schema returns the DDL for the intentions store
func Schema() string {
	return schemaSQL
}

// Migrate applies the schema. Every statement is idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
