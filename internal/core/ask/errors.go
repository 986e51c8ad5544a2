package ask

import (
	"context"
	"errors"

	"github.com/jinford/rag-query/internal/core/search"
)

var (
	// ErrGeneration は生成プロバイダの呼び出しに失敗した、または空の応答だった場合のエラー
	ErrGeneration = errors.New("generation failed")

	// ErrTimeout は呼び出し側が設定した期限を超過した場合のエラー
	ErrTimeout = errors.New("query timed out")

	// ErrInvalidQuery は質問文が空の場合のエラー
	ErrInvalidQuery = errors.New("invalid query")
)

// ErrorKind はエラーをログ・メトリクス用の短いラベルに分類する
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid"
	case errors.Is(err, search.ErrEmbedding):
		return "embedding"
	case errors.Is(err, search.ErrRetrieval):
		return "retrieval"
	case errors.Is(err, ErrGeneration):
		return "generation"
	default:
		return "unknown"
	}
}
