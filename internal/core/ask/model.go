package ask

import (
	"time"

	"github.com/jinford/rag-query/internal/core/search"
)

// DetailLevel は回答生成時にプロンプトへ埋め込む詳細度タグ
type DetailLevel string

const (
	// DetailNone は詳細度を指定しない（単一パス）
	DetailNone DetailLevel = ""
	// DetailSummary は要約階層のコンテキストから生成した回答
	DetailSummary DetailLevel = "summary"
	// DetailFull はセクション階層のコンテキストから生成した詳細な回答
	DetailFull DetailLevel = "full"
)

// StrategyName は検索・生成戦略の識別子
type StrategyName string

const (
	StrategySingle       StrategyName = "single"
	StrategyHierarchical StrategyName = "hierarchical"
	StrategyDateFiltered StrategyName = "date_filtered"
)

// ParseStrategyName は設定値を StrategyName に変換する。日付フィルタ用戦略は設定では選べない。
func ParseStrategyName(s string) (StrategyName, bool) {
	switch StrategyName(s) {
	case StrategySingle, StrategyHierarchical:
		return StrategyName(s), true
	default:
		return "", false
	}
}

// TokenUsage は1回以上の生成呼び出しで消費したトークン数
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add は2つの TokenUsage の合計を返す
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// GenerationUsage は生成呼び出し1回分のトークン数を段階名付きで表す
type GenerationUsage struct {
	Stage string     `json:"stage"`
	Usage TokenUsage `json:"usage"`
}

// Link は回答の根拠となった記事へのリンク
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RAGStats は1回の質問応答で計測した統計情報
type RAGStats struct {
	RetrievalLatency  time.Duration     `json:"-"`
	GenerationLatency time.Duration     `json:"-"`
	JudgeLatency      time.Duration     `json:"-"`
	TotalLatency      time.Duration     `json:"-"`
	TokenUsage        TokenUsage        `json:"tokenUsage"`
	Generations       []GenerationUsage `json:"generations"`
	Links             []Link            `json:"links"`
}

// AnswerResult は質問応答の結果を表す
type AnswerResult struct {
	Answer   string                `json:"answer"`
	Results  []*search.QueryResult `json:"results"`
	Stats    RAGStats              `json:"stats"`
	Level    DetailLevel           `json:"level,omitempty"`
	Strategy StrategyName          `json:"strategy"`

	// Degraded はエスカレーションに失敗し要約階層の回答を返した場合に true
	Degraded bool `json:"degraded,omitempty"`
}
