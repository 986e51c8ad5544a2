package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/rag-query/internal/core/ask"
)

// DefaultEncoding はモデルから解決できない場合に使うエンコーディング
const DefaultEncoding = "cl100k_base"

// TokenCounter は tiktoken でトークン数をカウントする
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は cl100k_base エンコーディングの TokenCounter を作成する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// NewTokenCounterForModel はモデル名に対応するエンコーディングの TokenCounter を作成する。
// 未知のモデル（Ollama のローカルモデルなど）は cl100k_base で近似する。
func NewTokenCounterForModel(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return NewTokenCounter()
	}
	return &TokenCounter{encoding: encoding}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoding == nil {
		// エンコーディングが初期化されていない場合は0を返す
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// インターフェース実装の確認
var _ ask.TokenCounter = (*TokenCounter)(nil)
