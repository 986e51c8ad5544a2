package ask

import (
	"context"

	"github.com/samber/mo"
)

// Completion は生成プロバイダの応答を表す。
// プロバイダが使用量を返さなかった場合 Usage は None になる。
type Completion struct {
	Text  string
	Usage mo.Option[TokenUsage]
	Model string
}

// LLMClient はLLM通信インターフェース（単発・非ストリーミング）
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// TokenCounter はプロンプトのトークン数を数えるインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}
