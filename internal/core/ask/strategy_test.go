package ask

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/rag-query/internal/core/search"
	"github.com/jinford/rag-query/internal/core/temporal"
)

func newHierarchical(retriever Retriever, llm LLMClient, fallback bool) *HierarchicalStrategy {
	logger := discardLogger()
	return NewHierarchicalStrategy(
		retriever,
		NewResponseGenerator(llm, WithGeneratorLogger(logger)),
		NewSufficiencyJudge(llm, WithJudgeLogger(logger)),
		HierarchicalOptions{FallbackOnEscalationFailure: fallback},
		logger,
	)
}

func tieredRetriever() *fakeRetriever {
	return &fakeRetriever{
		byLevel: map[search.Level][]*search.QueryResult{
			search.LevelSummary: {
				chunk(0.9, "Summary A", "2023_a.json", 1690000000, search.LevelSummary),
				chunk(0.8, "Summary B", "2023_b.json", 1690000000, search.LevelSummary),
			},
			search.LevelSection: {
				chunk(0.95, "Section A - Chunk 1", "2023_a.json", 1690000000, search.LevelSection),
			},
		},
	}
}

func TestHierarchicalStrategy_Escalates(t *testing.T) {
	retriever := tieredRetriever()
	llm := &scriptedLLM{
		answers: []string{"short answer", "detailed answer"},
		verdict: "Yes, more detail is needed.",
		usage:   mo.Some(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}),
	}

	res, err := newHierarchical(retriever, llm, false).Run(context.Background(), "How does aggregation theory apply?", nil)
	require.NoError(t, err)

	require.Len(t, retriever.calls, 2)
	assert.Equal(t, DefaultSummaryTopK, retriever.calls[0].topK)
	assert.Equal(t, mo.Some(search.LevelSummary), retriever.calls[0].filter.Level)
	assert.Equal(t, DefaultSectionTopK, retriever.calls[1].topK)
	assert.Equal(t, mo.Some(search.LevelSection), retriever.calls[1].filter.Level)
	assert.Nil(t, retriever.calls[1].filter.Date)

	assert.Equal(t, 2, llm.answerCalls)
	assert.Equal(t, 1, llm.judgeCalls)

	assert.Equal(t, "detailed answer", res.Answer)
	assert.Equal(t, DetailFull, res.Level)
	assert.False(t, res.Degraded)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "Section A - Chunk 1", res.Results[0].Metadata.Title)

	require.Len(t, res.Generations, 3)
	assert.Equal(t, "summary", res.Generations[0].Stage)
	assert.Equal(t, "judge", res.Generations[1].Stage)
	assert.Equal(t, "full", res.Generations[2].Stage)
	assert.Equal(t, TokenUsage{PromptTokens: 30, CompletionTokens: 15, TotalTokens: 45}, res.TokenUsage())

	// 詳細回答のプロンプトには full タグが入る
	assert.Contains(t, llm.prompts[2], "detail level: full")
}

func TestHierarchicalStrategy_SummarySufficient(t *testing.T) {
	retriever := tieredRetriever()
	llm := &scriptedLLM{
		answers: []string{"short answer"},
		verdict: "No",
	}

	res, err := newHierarchical(retriever, llm, false).Run(context.Background(), "What is Stratechery?", nil)
	require.NoError(t, err)

	require.Len(t, retriever.calls, 1)
	assert.Equal(t, 1, llm.answerCalls)
	assert.Equal(t, "short answer", res.Answer)
	assert.Equal(t, DetailSummary, res.Level)
	assert.Len(t, res.Results, 2)

	// 使用量が返らない場合は0として扱う
	assert.Equal(t, TokenUsage{}, res.TokenUsage())
}

func TestHierarchicalStrategy_AmbiguousVerdictDoesNotEscalate(t *testing.T) {
	retriever := tieredRetriever()
	llm := &scriptedLLM{verdict: "Perhaps"}

	res, err := newHierarchical(retriever, llm, false).Run(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Len(t, retriever.calls, 1)
	assert.Equal(t, DetailSummary, res.Level)
}

func TestHierarchicalStrategy_IgnoresDateFilter(t *testing.T) {
	retriever := tieredRetriever()
	llm := &scriptedLLM{verdict: "no"}
	filter := &temporal.DateFilter{Gte: mo.Some(int64(1)), Lte: mo.Some(int64(2))}

	_, err := newHierarchical(retriever, llm, false).Run(context.Background(), "q", filter)
	require.NoError(t, err)
	require.Len(t, retriever.calls, 1)
	assert.Nil(t, retriever.calls[0].filter.Date)
}

func TestHierarchicalStrategy_SummaryFailure(t *testing.T) {
	retriever := tieredRetriever()
	retriever.errFor = map[search.Level]error{search.LevelSummary: search.ErrRetrieval}
	llm := &scriptedLLM{}

	_, err := newHierarchical(retriever, llm, true).Run(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrRetrieval)
	assert.Zero(t, llm.answerCalls)
}

func TestHierarchicalStrategy_SectionFailure(t *testing.T) {
	sectionErr := errors.New("index down")

	t.Run("fails without fallback", func(t *testing.T) {
		retriever := tieredRetriever()
		retriever.errFor = map[search.Level]error{search.LevelSection: sectionErr}
		llm := &scriptedLLM{verdict: "yes"}

		_, err := newHierarchical(retriever, llm, false).Run(context.Background(), "q", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, sectionErr)
	})

	t.Run("degrades with fallback", func(t *testing.T) {
		retriever := tieredRetriever()
		retriever.errFor = map[search.Level]error{search.LevelSection: sectionErr}
		llm := &scriptedLLM{answers: []string{"short answer"}, verdict: "yes"}

		res, err := newHierarchical(retriever, llm, true).Run(context.Background(), "q", nil)
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, "short answer", res.Answer)
		assert.Equal(t, DetailSummary, res.Level)
	})
}

func TestHierarchicalStrategy_FullGenerationFailureDegrades(t *testing.T) {
	retriever := tieredRetriever()
	llm := &scriptedLLM{
		answers:     []string{"short answer"},
		verdict:     "yes",
		answerErrAt: 2,
		answerErr:   errors.New("rate limited"),
	}

	res, err := newHierarchical(retriever, llm, true).Run(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, "short answer", res.Answer)
	require.Len(t, res.Generations, 2)
}

func TestHierarchicalStrategy_JudgeFailure(t *testing.T) {
	retriever := tieredRetriever()
	llm := &scriptedLLM{judgeErr: errors.New("boom")}

	_, err := newHierarchical(retriever, llm, false).Run(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestHierarchicalStrategy_DeadlineNeverDegrades(t *testing.T) {
	retriever := tieredRetriever()
	llm := &scriptedLLM{blockOnCalls: true}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newHierarchical(retriever, llm, true).Run(ctx, "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSinglePassStrategy_UsesDateFilter(t *testing.T) {
	retriever := &fakeRetriever{
		fallback: []*search.QueryResult{chunk(0.7, "Meta", "2023_meta.json", 1690000000, search.LevelSection)},
	}
	llm := &scriptedLLM{answers: []string{"meta answer"}}
	filter := &temporal.DateFilter{Gte: mo.Some(int64(1672531200)), Lte: mo.Some(int64(1704067199))}

	strategy := NewSinglePassStrategy(StrategyDateFiltered, retriever, NewResponseGenerator(llm, WithGeneratorLogger(discardLogger())), 0)
	assert.Equal(t, StrategyDateFiltered, strategy.Name())

	res, err := strategy.Run(context.Background(), "What did Meta do in 2023?", filter)
	require.NoError(t, err)

	require.Len(t, retriever.calls, 1)
	assert.Equal(t, DefaultSingleTopK, retriever.calls[0].topK)
	assert.Same(t, filter, retriever.calls[0].filter.Date)
	assert.True(t, retriever.calls[0].filter.Level.IsAbsent())

	assert.Equal(t, 1, llm.answerCalls)
	assert.Equal(t, "meta answer", res.Answer)
	assert.Equal(t, DetailNone, res.Level)
	require.Len(t, res.Generations, 1)
	assert.Equal(t, "answer", res.Generations[0].Stage)
}

func TestSinglePassStrategy_GenerationFailure(t *testing.T) {
	retriever := &fakeRetriever{}
	llm := &scriptedLLM{answerErrAt: 1, answerErr: errors.New("provider down")}

	strategy := NewSinglePassStrategy(StrategySingle, retriever, NewResponseGenerator(llm, WithGeneratorLogger(discardLogger())), 3)
	_, err := strategy.Run(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, 3, retriever.calls[0].topK)
}
