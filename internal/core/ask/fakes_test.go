package ask

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/mo"

	"github.com/jinford/rag-query/internal/core/search"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type retrieveCall struct {
	query  string
	topK   int
	filter search.Filter
}

// fakeRetriever は階層ごとに固定の結果を返し、呼び出しを記録する
type fakeRetriever struct {
	mu       sync.Mutex
	byLevel  map[search.Level][]*search.QueryResult
	fallback []*search.QueryResult
	errFor   map[search.Level]error
	err      error
	calls    []retrieveCall
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string, topK int, filter search.Filter) ([]*search.QueryResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, retrieveCall{query: query, topK: topK, filter: filter})
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if level, ok := filter.Level.Get(); ok {
		if err := r.errFor[level]; err != nil {
			return nil, err
		}
		return r.byLevel[level], nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.fallback, nil
}

// scriptedLLM は判定プロンプトと回答プロンプトを見分けて固定の応答を返す
type scriptedLLM struct {
	mu           sync.Mutex
	answers      []string
	verdict      string
	usage        mo.Option[TokenUsage]
	answerErrAt  int // 1始まり。0なら失敗しない
	judgeErr     error
	answerErr    error
	prompts      []string
	answerCalls  int
	judgeCalls   int
	blockOnCalls bool
}

func (l *scriptedLLM) Complete(ctx context.Context, prompt string) (*Completion, error) {
	if l.blockOnCalls {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prompts = append(l.prompts, prompt)

	if strings.Contains(prompt, "more detail is required") {
		l.judgeCalls++
		if l.judgeErr != nil {
			return nil, l.judgeErr
		}
		return &Completion{Text: l.verdict, Usage: l.usage}, nil
	}

	l.answerCalls++
	if l.answerErrAt > 0 && l.answerCalls == l.answerErrAt {
		return nil, l.answerErr
	}
	text := "answer"
	if idx := l.answerCalls - 1; idx < len(l.answers) {
		text = l.answers[idx]
	}
	return &Completion{Text: text, Usage: l.usage}, nil
}

func chunk(score float64, title, fileName string, published int64, level search.Level) *search.QueryResult {
	return &search.QueryResult{
		Score: score,
		Metadata: search.ChunkMetadata{
			Title:         title,
			Content:       "content of " + title,
			FileName:      fileName,
			PublishedDate: published,
			Level:         level,
		},
	}
}
