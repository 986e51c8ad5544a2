package search

import "context"

// VectorIndex はチャンクを格納するベクトルインデックスへの読み取りインターフェース。
// 実装は score の降順で結果を返し、欠落したメタデータには既定値を補う。
type VectorIndex interface {
	// Search は queryVector に近い上位 topK 件を filter 付きで検索する
	Search(ctx context.Context, queryVector []float32, topK int, filter Filter) ([]*QueryResult, error)
}

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}
