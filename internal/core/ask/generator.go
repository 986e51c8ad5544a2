package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/rag-query/internal/core/search"
)

// Generation は回答生成1回分の結果
type Generation struct {
	Text  string
	Usage TokenUsage

	// UsageReported はプロバイダが使用量を返したかどうか
	UsageReported bool
}

// ResponseGenerator は検索結果をコンテキストとしてLLMに回答を生成させる
type ResponseGenerator struct {
	llm     LLMClient
	counter TokenCounter
	budget  int
	logger  *slog.Logger
}

type GeneratorOption func(*ResponseGenerator)

// WithGeneratorLogger は ResponseGenerator にロガーを設定する
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *ResponseGenerator) {
		g.logger = logger
	}
}

// WithContextBudget はコンテキストに含めるチャンクのトークン上限を設定する。
// budget が 0 以下、または counter が nil の場合は上限なし。
func WithContextBudget(counter TokenCounter, budget int) GeneratorOption {
	return func(g *ResponseGenerator) {
		g.counter = counter
		g.budget = budget
	}
}

// NewResponseGenerator は新しいResponseGeneratorを作成する
func NewResponseGenerator(llm LLMClient, opts ...GeneratorOption) *ResponseGenerator {
	g := &ResponseGenerator{
		llm:    llm,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Generate は質問文と検索結果から回答を1回だけ生成する。リトライは行わない。
func (g *ResponseGenerator) Generate(ctx context.Context, query string, chunks []*search.QueryResult, detail DetailLevel) (*Generation, error) {
	chunks = g.fitBudget(chunks)
	prompt := BuildAnswerPrompt(query, chunks, detail)

	completion, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if completion == nil || strings.TrimSpace(completion.Text) == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrGeneration)
	}

	usage, reported := completion.Usage.Get()
	if !reported {
		g.logger.Warn("provider did not report token usage", "detail", string(detail))
	}

	g.logger.Info("response generated",
		"detail", string(detail),
		"chunks", len(chunks),
		"promptTokens", usage.PromptTokens,
		"completionTokens", usage.CompletionTokens,
		"totalTokens", usage.TotalTokens,
	)

	return &Generation{
		Text:          completion.Text,
		Usage:         usage,
		UsageReported: reported,
	}, nil
}

// fitBudget は上限に収まる範囲で先頭からチャンクを残す。先頭の1件は常に残す。
func (g *ResponseGenerator) fitBudget(chunks []*search.QueryResult) []*search.QueryResult {
	if g.counter == nil || g.budget <= 0 || len(chunks) == 0 {
		return chunks
	}

	kept := make([]*search.QueryResult, 0, len(chunks))
	used := 0
	for i, chunk := range chunks {
		tokens := g.counter.CountTokens(formatChunk(chunk))
		if i > 0 && used+tokens > g.budget {
			g.logger.Info("context budget reached, dropping remaining chunks",
				"budget", g.budget,
				"kept", len(kept),
				"dropped", len(chunks)-len(kept),
			)
			break
		}
		used += tokens
		kept = append(kept, chunk)
	}
	return kept
}
