package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// contentPreviewLength はデバッグログに出力する本文プレビューの文字数
const contentPreviewLength = 100

// SearchService は質問文からチャンクを検索するリトリーバ
type SearchService struct {
	index    VectorIndex
	embedder Embedder
	logger   *slog.Logger
}

type SearchServiceOption func(*SearchService)

// WithSearchLogger は SearchService にロガーを設定する
func WithSearchLogger(logger *slog.Logger) SearchServiceOption {
	return func(s *SearchService) {
		s.logger = logger
	}
}

// NewSearchService は新しいSearchServiceを作成する
func NewSearchService(index VectorIndex, embedder Embedder, opts ...SearchServiceOption) *SearchService {
	svc := &SearchService{
		index:    index,
		embedder: embedder,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Retrieve は質問文をEmbeddingに変換し、上位 topK 件のチャンクを score 降順で返す。
// インデックスの並び順をそのまま維持し、再ランキングは行わない。
func (s *SearchService) Retrieve(ctx context.Context, query string, topK int, filter Filter) ([]*QueryResult, error) {
	// バリデーション
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be >= 1, got %d", topK)
	}

	start := time.Now()

	// クエリをEmbeddingに変換
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: empty embedding vector", ErrEmbedding)
	}

	results, err := s.index.Search(ctx, queryVector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	// score が降順でない応答はインデックス側の異常として扱う
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			return nil, fmt.Errorf("%w: results not ordered by score at position %d", ErrRetrieval, i)
		}
	}

	s.logger.Info("retrieval completed",
		"query", query,
		"topK", topK,
		"level", filter.Level.OrEmpty(),
		"dateFilter", filter.Date.String(),
		"results", len(results),
		"elapsed", time.Since(start),
	)
	s.logResults(ctx, results)

	return results, nil
}

// logResults は各検索結果の概要をデバッグレベルで出力する
func (s *SearchService) logResults(ctx context.Context, results []*QueryResult) {
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	for i, r := range results {
		s.logger.Debug("retrieval result",
			"rank", i+1,
			"score", r.Score,
			"title", r.Metadata.Title,
			"file", r.Metadata.FileName,
			"publishedDate", time.Unix(r.Metadata.PublishedDate, 0).UTC().Format(time.DateOnly),
			"chunkIndex", r.Metadata.ChunkIndex,
			"contentPreview", preview(r.Metadata.Content, contentPreviewLength),
		)
	}
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
