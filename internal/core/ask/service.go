package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jinford/rag-query/internal/core/temporal"
)

// DefaultQueryTimeout は1回の質問応答全体の既定タイムアウト
const DefaultQueryTimeout = 60 * time.Second

// DateParser は質問文から日付フィルタを導出するインターフェース
type DateParser interface {
	Parse(query string) *temporal.DateFilter
}

// Observer は質問応答の結果を受け取るメトリクス用フック
type Observer interface {
	ObserveAnswer(result *AnswerResult)
	ObserveFailure(strategy StrategyName, kind string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAnswer(*AnswerResult)                        {}
func (nopObserver) ObserveFailure(StrategyName, string, time.Duration) {}

// AskService は質問応答のエントリポイント
type AskService struct {
	parser       DateParser
	defaultRun   Strategy
	dateRun      Strategy
	linkTemplate string
	timeout      time.Duration
	observer     Observer
	logger       *slog.Logger
}

type AskServiceOption func(*AskService)

// WithAskLogger は AskService にロガーを設定する
func WithAskLogger(logger *slog.Logger) AskServiceOption {
	return func(s *AskService) {
		s.logger = logger
	}
}

// WithQueryTimeout は質問応答全体のタイムアウトを設定する。0 以下で無制限。
func WithQueryTimeout(timeout time.Duration) AskServiceOption {
	return func(s *AskService) {
		s.timeout = timeout
	}
}

// WithLinkTemplate はリンクURLの書式を設定する
func WithLinkTemplate(template string) AskServiceOption {
	return func(s *AskService) {
		s.linkTemplate = template
	}
}

// WithObserver はメトリクス用フックを設定する
func WithObserver(observer Observer) AskServiceOption {
	return func(s *AskService) {
		s.observer = observer
	}
}

// NewAskService は新しいAskServiceを作成する。
// 日付フィルタが導出できた質問には dateRun を、それ以外には defaultRun を使う。
func NewAskService(parser DateParser, defaultRun, dateRun Strategy, opts ...AskServiceOption) *AskService {
	svc := &AskService{
		parser:       parser,
		defaultRun:   defaultRun,
		dateRun:      dateRun,
		linkTemplate: DefaultLinkTemplate,
		timeout:      DefaultQueryTimeout,
		observer:     nopObserver{},
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.observer == nil {
		svc.observer = nopObserver{}
	}

	return svc
}

// Answer は質問に対してRAGベースで回答を生成する
func (s *AskService) Answer(ctx context.Context, query string) (*AnswerResult, error) {
	start := time.Now()

	// 1. バリデーション
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// 2. 日付フィルタの導出と戦略の選択
	filter := s.parser.Parse(query)
	strategy := s.defaultRun
	if filter != nil {
		strategy = s.dateRun
	}

	s.logger.Info("answering query",
		"query", query,
		"strategy", string(strategy.Name()),
		"dateFilter", filter.String(),
	)

	// 3. 検索と回答生成
	res, err := strategy.Run(ctx, query, filter)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, time.Since(start).Round(time.Millisecond), err)
		}
		kind := ErrorKind(err)
		s.logger.Error("query failed",
			"query", query,
			"strategy", string(strategy.Name()),
			"kind", kind,
			"error", err,
		)
		s.observer.ObserveFailure(strategy.Name(), kind, time.Since(start))
		return nil, err
	}

	// 4. リンクと統計情報の整形
	result := &AnswerResult{
		Answer:   res.Answer,
		Results:  res.Results,
		Level:    res.Level,
		Strategy: strategy.Name(),
		Degraded: res.Degraded,
		Stats: RAGStats{
			RetrievalLatency:  res.RetrievalLatency,
			GenerationLatency: res.GenerationLatency,
			JudgeLatency:      res.JudgeLatency,
			TotalLatency:      time.Since(start),
			TokenUsage:        res.TokenUsage(),
			Generations:       res.Generations,
			Links:             BuildLinks(res.Results, s.linkTemplate),
		},
	}

	s.logger.Info("query answered",
		"strategy", string(result.Strategy),
		"level", string(result.Level),
		"degraded", result.Degraded,
		"results", len(result.Results),
		"links", len(result.Stats.Links),
		"retrievalLatency", result.Stats.RetrievalLatency,
		"generationLatency", result.Stats.GenerationLatency,
		"totalLatency", result.Stats.TotalLatency,
		"totalTokens", result.Stats.TokenUsage.TotalTokens,
	)
	s.observer.ObserveAnswer(result)

	return result, nil
}
