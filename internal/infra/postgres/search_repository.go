package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/rag-query/internal/core/search"
)

// DefaultTable はチャンクを格納する既定のテーブル名
const DefaultTable = "rag_chunks"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Querier は *pgxpool.Pool / pgx.Tx の読み取り部分
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SearchRepository は pgvector を使った search.VectorIndex 実装。
// score はコサイン類似度（1 - コサイン距離）で、降順に返す。
type SearchRepository struct {
	q      Querier
	table  string
	logger *slog.Logger
}

// SearchRepositoryOption は SearchRepository のオプション設定
type SearchRepositoryOption func(*SearchRepository)

// WithSearchLogger は SearchRepository にロガーを設定する
func WithSearchLogger(logger *slog.Logger) SearchRepositoryOption {
	return func(r *SearchRepository) {
		r.logger = logger
	}
}

// WithTable は検索対象のテーブル名を指定する
func WithTable(table string) SearchRepositoryOption {
	return func(r *SearchRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewSearchRepository は新しい SearchRepository を返す
func NewSearchRepository(q Querier, opts ...SearchRepositoryOption) (*SearchRepository, error) {
	r := &SearchRepository{
		q:      q,
		table:  DefaultTable,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if !identifierPattern.MatchString(r.table) {
		return nil, fmt.Errorf("invalid table name: %q", r.table)
	}
	return r, nil
}

var _ search.VectorIndex = (*SearchRepository)(nil)

// Search は上位 topK 件の近傍チャンクを返す
func (r *SearchRepository) Search(ctx context.Context, queryVector []float32, topK int, filter search.Filter) ([]*search.QueryResult, error) {
	query, args := buildSearchQuery(r.table, pgvector.NewVector(queryVector), topK, filter)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []*search.QueryResult
	for rows.Next() {
		var (
			result search.QueryResult
			level  string
		)
		if err := rows.Scan(
			&result.Metadata.Title,
			&result.Metadata.Content,
			&result.Metadata.FileName,
			&result.Metadata.ChunkIndex,
			&result.Metadata.PublishedDate,
			&level,
			&result.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if parsed, err := search.ParseLevel(level); err == nil {
			result.Metadata.Level = parsed
		}
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	r.logger.Debug("pgvector search completed",
		"table", r.table,
		"topK", topK,
		"matches", len(results),
	)

	return results, nil
}

// buildSearchQuery は検索SQLとバインド引数を組み立てる。$1 はクエリベクトル。
// 欠落メタデータの既定値は COALESCE で補う。
func buildSearchQuery(table string, vector pgvector.Vector, topK int, filter search.Filter) (string, []any) {
	args := []any{vector}
	var conditions []string

	addArg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.Date.IsZero() {
		if gte, ok := filter.Date.Gte.Get(); ok {
			conditions = append(conditions, "published_date >= "+addArg(gte))
		}
		if lte, ok := filter.Date.Lte.Get(); ok {
			conditions = append(conditions, "published_date <= "+addArg(lte))
		}
	}
	if level, ok := filter.Level.Get(); ok {
		conditions = append(conditions, "level = "+addArg(string(level)))
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT
			COALESCE(NULLIF(title, ''), 'Untitled'),
			COALESCE(NULLIF(content, ''), truncated_content, ''),
			COALESCE(file_name, ''),
			COALESCE(chunk_index, 0),
			COALESCE(published_date, 0),
			COALESCE(level, ''),
			1 - (embedding <=> $1) AS score
		FROM `)
	sb.WriteString(table)
	if len(conditions) > 0 {
		sb.WriteString("\n\t\tWHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	sb.WriteString("\n\t\tORDER BY embedding <=> $1\n\t\tLIMIT ")
	sb.WriteString(addArg(topK))

	return sb.String(), args
}
