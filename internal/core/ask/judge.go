package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SufficiencyJudge は要約階層の回答に詳細検索が必要かをLLMに判定させる
type SufficiencyJudge struct {
	llm    LLMClient
	logger *slog.Logger
}

type JudgeOption func(*SufficiencyJudge)

// WithJudgeLogger は SufficiencyJudge にロガーを設定する
func WithJudgeLogger(logger *slog.Logger) JudgeOption {
	return func(j *SufficiencyJudge) {
		j.logger = logger
	}
}

// NewSufficiencyJudge は新しいSufficiencyJudgeを作成する
func NewSufficiencyJudge(llm LLMClient, opts ...JudgeOption) *SufficiencyJudge {
	j := &SufficiencyJudge{
		llm:    llm,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

// NeedsEscalation は回答に詳細検索が必要なら true を返す。
// 判定は応答に "yes" が含まれるか（大文字小文字を区別しない部分一致）のみで行い、
// 曖昧な応答はエスカレーション不要として扱う。
func (j *SufficiencyJudge) NeedsEscalation(ctx context.Context, query, answer string) (bool, TokenUsage, error) {
	completion, err := j.llm.Complete(ctx, BuildSufficiencyPrompt(query, answer))
	if err != nil {
		return false, TokenUsage{}, fmt.Errorf("%w: sufficiency judge: %w", ErrGeneration, err)
	}
	if completion == nil {
		return false, TokenUsage{}, fmt.Errorf("%w: sufficiency judge: empty completion", ErrGeneration)
	}

	escalate := IsAffirmative(completion.Text)
	usage := completion.Usage.OrEmpty()

	j.logger.Info("sufficiency judged",
		"escalate", escalate,
		"verdict", completion.Text,
		"totalTokens", usage.TotalTokens,
	)

	return escalate, usage, nil
}

// IsAffirmative は判定文に "yes" が含まれるかを返す
func IsAffirmative(verdict string) bool {
	return strings.Contains(strings.ToLower(verdict), "yes")
}
