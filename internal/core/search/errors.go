package search

import "errors"

var (
	// ErrEmbedding はEmbeddingプロバイダへの問い合わせに失敗した場合のエラー
	ErrEmbedding = errors.New("embedding failed")

	// ErrRetrieval はベクトルインデックスへの問い合わせに失敗した場合のエラー
	ErrRetrieval = errors.New("retrieval failed")
)
