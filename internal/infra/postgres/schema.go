package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer は DDL の実行に使う *pgxpool.Pool の部分
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema は pgvector 拡張とチャンクテーブルを作成する（冪等）
func EnsureSchema(ctx context.Context, db Execer, table string, dimension int) error {
	if table == "" {
		table = DefaultTable
	}
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("invalid table name: %q", table)
	}
	if dimension <= 0 {
		return fmt.Errorf("dimension must be > 0, got %d", dimension)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			title TEXT,
			content TEXT,
			truncated_content TEXT,
			file_name TEXT,
			chunk_index INTEGER,
			published_date BIGINT,
			level TEXT CHECK (level IN ('summary', 'section')),
			embedding vector(%d) NOT NULL
		)`, table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_level_published_idx ON %s (level, published_date)`, table, table),
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
