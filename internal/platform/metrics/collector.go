// Package metrics は質問応答とHTTPリクエストの Prometheus メトリクスを収集します
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jinford/rag-query/internal/core/ask"
)

// DefaultNamespace はメトリクス名の接頭辞
const DefaultNamespace = "rag"

// Collector は Prometheus メトリクスの収集器
type Collector struct {
	// 質問応答
	queriesTotal     *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	escalationsTotal prometheus.Counter

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector は reg にメトリクスを登録した Collector を作成します。
// 同じ Registerer に二度登録すると panic するため、テストでは個別の Registry を渡してください
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Collector{
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of answered or failed queries",
			},
			[]string{"strategy", "level", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each query stage in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total number of LLM tokens consumed",
			},
			[]string{"kind"},
		),
		escalationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Number of queries escalated to the section level",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// ObserveAnswer は成功した質問応答を記録します
func (c *Collector) ObserveAnswer(result *ask.AnswerResult) {
	if result == nil {
		return
	}

	status := "ok"
	if result.Degraded {
		status = "degraded"
	}
	c.queriesTotal.WithLabelValues(string(result.Strategy), levelLabel(result.Level), status).Inc()

	stats := result.Stats
	c.stageDuration.WithLabelValues("retrieval").Observe(stats.RetrievalLatency.Seconds())
	c.stageDuration.WithLabelValues("generation").Observe(stats.GenerationLatency.Seconds())
	if stats.JudgeLatency > 0 {
		c.stageDuration.WithLabelValues("judge").Observe(stats.JudgeLatency.Seconds())
	}
	c.stageDuration.WithLabelValues("total").Observe(stats.TotalLatency.Seconds())

	c.tokensTotal.WithLabelValues("prompt").Add(float64(stats.TokenUsage.PromptTokens))
	c.tokensTotal.WithLabelValues("completion").Add(float64(stats.TokenUsage.CompletionTokens))

	if result.Level == ask.DetailFull {
		c.escalationsTotal.Inc()
	}
}

// ObserveFailure は失敗した質問応答を記録します
func (c *Collector) ObserveFailure(strategy ask.StrategyName, kind string, elapsed time.Duration) {
	c.queriesTotal.WithLabelValues(string(strategy), "none", kind).Inc()
	c.stageDuration.WithLabelValues("total").Observe(elapsed.Seconds())
}

// RecordHTTPRequest はHTTPリクエストを記録します
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func levelLabel(level ask.DetailLevel) string {
	if level == ask.DetailNone {
		return "none"
	}
	return string(level)
}

var _ ask.Observer = (*Collector)(nil)
