package ask

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jinford/rag-query/internal/core/search"
	"github.com/jinford/rag-query/internal/core/temporal"
)

// 階層検索の既定値
const (
	DefaultSingleTopK  = 5
	DefaultSummaryTopK = 5
	DefaultSectionTopK = 3
)

// Retriever はチャンク検索インターフェース
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filter search.Filter) ([]*search.QueryResult, error)
}

// Generator は回答生成インターフェース
type Generator interface {
	Generate(ctx context.Context, query string, chunks []*search.QueryResult, detail DetailLevel) (*Generation, error)
}

// Judge はエスカレーション判定インターフェース
type Judge interface {
	NeedsEscalation(ctx context.Context, query, answer string) (bool, TokenUsage, error)
}

// StrategyResult は戦略1回分の実行結果
type StrategyResult struct {
	Answer   string
	Results  []*search.QueryResult
	Level    DetailLevel
	Degraded bool

	RetrievalLatency  time.Duration
	GenerationLatency time.Duration
	JudgeLatency      time.Duration
	Generations       []GenerationUsage
}

// TokenUsage は全生成呼び出しの合計トークン数を返す
func (r *StrategyResult) TokenUsage() TokenUsage {
	var total TokenUsage
	for _, g := range r.Generations {
		total = total.Add(g.Usage)
	}
	return total
}

// Strategy は検索と回答生成の進め方を表す
type Strategy interface {
	Name() StrategyName
	Run(ctx context.Context, query string, filter *temporal.DateFilter) (*StrategyResult, error)
}

// pass は検索・生成の呼び出しを計測しながら StrategyResult に記録する
type pass struct {
	retriever Retriever
	generator Generator
	result    StrategyResult
}

func (p *pass) retrieve(ctx context.Context, query string, topK int, filter search.Filter) ([]*search.QueryResult, error) {
	start := time.Now()
	results, err := p.retriever.Retrieve(ctx, query, topK, filter)
	p.result.RetrievalLatency += time.Since(start)
	return results, err
}

func (p *pass) generate(ctx context.Context, stage string, query string, chunks []*search.QueryResult, detail DetailLevel) (*Generation, error) {
	start := time.Now()
	gen, err := p.generator.Generate(ctx, query, chunks, detail)
	p.result.GenerationLatency += time.Since(start)
	if err != nil {
		return nil, err
	}
	p.result.Generations = append(p.result.Generations, GenerationUsage{Stage: stage, Usage: gen.Usage})
	return gen, nil
}

func (p *pass) judge(ctx context.Context, judge Judge, query, answer string) (bool, error) {
	start := time.Now()
	escalate, usage, err := judge.NeedsEscalation(ctx, query, answer)
	p.result.JudgeLatency += time.Since(start)
	if err != nil {
		return false, err
	}
	p.result.Generations = append(p.result.Generations, GenerationUsage{Stage: "judge", Usage: usage})
	return escalate, nil
}

// SinglePassStrategy は1回の検索と1回の生成で回答する。
// 日付フィルタが渡された場合はそれを検索条件に用いる。
type SinglePassStrategy struct {
	name      StrategyName
	retriever Retriever
	generator Generator
	topK      int
}

// NewSinglePassStrategy は単一パス戦略を作成する
func NewSinglePassStrategy(name StrategyName, retriever Retriever, generator Generator, topK int) *SinglePassStrategy {
	if topK <= 0 {
		topK = DefaultSingleTopK
	}
	return &SinglePassStrategy{
		name:      name,
		retriever: retriever,
		generator: generator,
		topK:      topK,
	}
}

func (s *SinglePassStrategy) Name() StrategyName {
	return s.name
}

func (s *SinglePassStrategy) Run(ctx context.Context, query string, filter *temporal.DateFilter) (*StrategyResult, error) {
	p := &pass{retriever: s.retriever, generator: s.generator}

	results, err := p.retrieve(ctx, query, s.topK, search.DateRangeFilter(filter))
	if err != nil {
		return nil, err
	}

	gen, err := p.generate(ctx, "answer", query, results, DetailNone)
	if err != nil {
		return nil, err
	}

	p.result.Answer = gen.Text
	p.result.Results = results
	return &p.result, nil
}

// HierarchicalOptions は階層検索戦略の設定
type HierarchicalOptions struct {
	SummaryTopK int
	SectionTopK int

	// FallbackOnEscalationFailure が true の場合、判定または詳細階層の処理に失敗しても
	// 要約階層の回答を Degraded として返す。期限超過は常にエラーとする。
	FallbackOnEscalationFailure bool
}

// HierarchicalStrategy は要約階層で回答し、不十分と判定された場合のみセクション階層で再回答する
type HierarchicalStrategy struct {
	retriever Retriever
	generator Generator
	judge     Judge
	opts      HierarchicalOptions
	logger    *slog.Logger
}

// NewHierarchicalStrategy は階層検索戦略を作成する
func NewHierarchicalStrategy(retriever Retriever, generator Generator, judge Judge, opts HierarchicalOptions, logger *slog.Logger) *HierarchicalStrategy {
	if opts.SummaryTopK <= 0 {
		opts.SummaryTopK = DefaultSummaryTopK
	}
	if opts.SectionTopK <= 0 {
		opts.SectionTopK = DefaultSectionTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HierarchicalStrategy{
		retriever: retriever,
		generator: generator,
		judge:     judge,
		opts:      opts,
		logger:    logger,
	}
}

func (s *HierarchicalStrategy) Name() StrategyName {
	return StrategyHierarchical
}

// Run は START → SUMMARY_RETRIEVED → SUMMARY_ANSWERED → {DONE | ESCALATING}
// → FULL_RETRIEVED → FULL_ANSWERED → DONE の順に遷移する。日付フィルタは使わない。
func (s *HierarchicalStrategy) Run(ctx context.Context, query string, _ *temporal.DateFilter) (*StrategyResult, error) {
	p := &pass{retriever: s.retriever, generator: s.generator}

	// SUMMARY_RETRIEVED
	summaries, err := p.retrieve(ctx, query, s.opts.SummaryTopK, search.LevelFilter(search.LevelSummary))
	if err != nil {
		return nil, err
	}

	// SUMMARY_ANSWERED
	summaryGen, err := p.generate(ctx, "summary", query, summaries, DetailSummary)
	if err != nil {
		return nil, err
	}

	p.result.Answer = summaryGen.Text
	p.result.Results = summaries
	p.result.Level = DetailSummary

	escalate, err := p.judge(ctx, s.judge, query, summaryGen.Text)
	if err != nil {
		return s.degrade(ctx, p, "judge", err)
	}
	if !escalate {
		s.logger.Info("summary answer judged sufficient", "query", query)
		return &p.result, nil
	}

	// ESCALATING → FULL_RETRIEVED
	s.logger.Info("escalating to section level", "query", query, "topK", s.opts.SectionTopK)
	sections, err := p.retrieve(ctx, query, s.opts.SectionTopK, search.LevelFilter(search.LevelSection))
	if err != nil {
		return s.degrade(ctx, p, "section_retrieval", err)
	}

	// FULL_ANSWERED
	fullGen, err := p.generate(ctx, "full", query, sections, DetailFull)
	if err != nil {
		return s.degrade(ctx, p, "full_generation", err)
	}

	p.result.Answer = fullGen.Text
	p.result.Results = sections
	p.result.Level = DetailFull
	return &p.result, nil
}

// degrade はエスカレーション段階の失敗を処理する。
// フォールバック無効時、または期限超過時はエラーをそのまま返す。
func (s *HierarchicalStrategy) degrade(ctx context.Context, p *pass, stage string, cause error) (*StrategyResult, error) {
	if !s.opts.FallbackOnEscalationFailure || ctx.Err() != nil || errors.Is(cause, context.DeadlineExceeded) {
		return nil, cause
	}

	s.logger.Warn("escalation failed, returning summary answer",
		"stage", stage,
		"error", cause,
	)
	p.result.Degraded = true
	return &p.result, nil
}

// インターフェース実装の確認
var (
	_ Strategy  = (*SinglePassStrategy)(nil)
	_ Strategy  = (*HierarchicalStrategy)(nil)
	_ Generator = (*ResponseGenerator)(nil)
	_ Judge     = (*SufficiencyJudge)(nil)
)
