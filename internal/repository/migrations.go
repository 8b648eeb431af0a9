package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed migrations/001_init.sql
var migrationSQL string

// Migrate создаёт схему, если таблицы positions ещё нет.
// Все операторы идемпотентны (IF NOT EXISTS), повторный запуск безопасен.
func Migrate(ctx context.Context, db *sql.DB) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'positions'
		)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schema: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := db.ExecContext(ctx, migrationSQL); err != nil {
		return false, fmt.Errorf("run migrations: %w", err)
	}
	return true, nil
}
