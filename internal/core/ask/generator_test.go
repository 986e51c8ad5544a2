package ask

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/rag-query/internal/core/search"
)

// wordCounter は空白区切りの単語数をトークン数とみなす
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func TestResponseGenerator_Generate(t *testing.T) {
	llm := &scriptedLLM{
		answers: []string{"Aggregators own demand."},
		usage:   mo.Some(TokenUsage{PromptTokens: 120, CompletionTokens: 8, TotalTokens: 128}),
	}
	gen := NewResponseGenerator(llm, WithGeneratorLogger(discardLogger()))

	chunks := []*search.QueryResult{
		chunk(0.9, "Aggregation Theory", "2015_aggregation-theory.json", 1437955200, search.LevelSection),
	}

	res, err := gen.Generate(context.Background(), "What is aggregation theory?", chunks, DetailNone)
	require.NoError(t, err)
	assert.Equal(t, "Aggregators own demand.", res.Text)
	assert.True(t, res.UsageReported)
	assert.Equal(t, 128, res.Usage.TotalTokens)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Title: Aggregation Theory")
	assert.Contains(t, llm.prompts[0], "Published Date: 2015-07-27")
	assert.Contains(t, llm.prompts[0], "Question: What is aggregation theory?")
}

func TestResponseGenerator_MissingUsageDefaultsToZero(t *testing.T) {
	llm := &scriptedLLM{answers: []string{"ok"}}
	gen := NewResponseGenerator(llm, WithGeneratorLogger(discardLogger()))

	res, err := gen.Generate(context.Background(), "q", nil, DetailSummary)
	require.NoError(t, err)
	assert.False(t, res.UsageReported)
	assert.Equal(t, TokenUsage{PromptTokens: 0, CompletionTokens: 0, TotalTokens: 0}, res.Usage)
}

func TestResponseGenerator_Errors(t *testing.T) {
	tests := []struct {
		name string
		llm  *scriptedLLM
	}{
		{
			name: "provider failure",
			llm:  &scriptedLLM{answerErrAt: 1, answerErr: errors.New("503")},
		},
		{
			name: "empty completion",
			llm:  &scriptedLLM{answers: []string{"   "}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewResponseGenerator(tt.llm, WithGeneratorLogger(discardLogger()))
			_, err := gen.Generate(context.Background(), "q", nil, DetailNone)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGeneration)
		})
	}
}

func TestResponseGenerator_ContextBudget(t *testing.T) {
	chunks := []*search.QueryResult{
		chunk(0.9, "First", "2020_first.json", 0, search.LevelSection),
		chunk(0.8, "Second", "2020_second.json", 0, search.LevelSection),
		chunk(0.7, "Third", "2020_third.json", 0, search.LevelSection),
	}
	// 1チャンクは "Title: X\nContent: content of X" で6語
	t.Run("drops tail chunks over budget", func(t *testing.T) {
		llm := &scriptedLLM{}
		gen := NewResponseGenerator(llm, WithGeneratorLogger(discardLogger()), WithContextBudget(wordCounter{}, 12))

		_, err := gen.Generate(context.Background(), "q", chunks, DetailNone)
		require.NoError(t, err)
		assert.Contains(t, llm.prompts[0], "Title: Second")
		assert.NotContains(t, llm.prompts[0], "Title: Third")
	})

	t.Run("always keeps the first chunk", func(t *testing.T) {
		llm := &scriptedLLM{}
		gen := NewResponseGenerator(llm, WithGeneratorLogger(discardLogger()), WithContextBudget(wordCounter{}, 1))

		_, err := gen.Generate(context.Background(), "q", chunks, DetailNone)
		require.NoError(t, err)
		assert.Contains(t, llm.prompts[0], "Title: First")
		assert.NotContains(t, llm.prompts[0], "Title: Second")
	})

	t.Run("no budget keeps everything", func(t *testing.T) {
		llm := &scriptedLLM{}
		gen := NewResponseGenerator(llm, WithGeneratorLogger(discardLogger()), WithContextBudget(nil, 1))

		_, err := gen.Generate(context.Background(), "q", chunks, DetailNone)
		require.NoError(t, err)
		assert.Contains(t, llm.prompts[0], "Title: Third")
	})
}

func TestSufficiencyJudge(t *testing.T) {
	tests := []struct {
		verdict  string
		escalate bool
	}{
		{verdict: "Yes", escalate: true},
		{verdict: "YES, more detail is required.", escalate: true},
		{verdict: "No", escalate: false},
		{verdict: "no, the answer is sufficient", escalate: false},
		{verdict: "It depends", escalate: false},
		{verdict: "", escalate: false},
	}

	for _, tt := range tests {
		t.Run(tt.verdict, func(t *testing.T) {
			llm := &scriptedLLM{
				verdict: tt.verdict,
				usage:   mo.Some(TokenUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}),
			}
			judge := NewSufficiencyJudge(llm, WithJudgeLogger(discardLogger()))

			escalate, usage, err := judge.NeedsEscalation(context.Background(), "q", "a")
			require.NoError(t, err)
			assert.Equal(t, tt.escalate, escalate)
			assert.Equal(t, 4, usage.TotalTokens)
			assert.Equal(t, 1, llm.judgeCalls)
		})
	}
}

func TestSufficiencyJudge_ProviderFailure(t *testing.T) {
	llm := &scriptedLLM{judgeErr: errors.New("timeout")}
	judge := NewSufficiencyJudge(llm, WithJudgeLogger(discardLogger()))

	_, _, err := judge.NeedsEscalation(context.Background(), "q", "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
}
