package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/jinford/rag-query/internal/core/search"
)

const (
	// DefaultHost はQdrantサーバーの既定ホスト
	DefaultHost = "localhost"
	// DefaultPort はQdrantのgRPCポート
	DefaultPort = 6334
	// DefaultCollection は既定のコレクション名
	DefaultCollection = "stratechery-rag-demo"
)

// Config は Qdrant への接続設定
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// pointSearcher は qdrantclient.PointsClient のうち検索に使う部分
type pointSearcher interface {
	Search(ctx context.Context, in *qdrantclient.SearchPoints, opts ...grpc.CallOption) (*qdrantclient.SearchResponse, error)
}

// Index は Qdrant の gRPC API を使用した search.VectorIndex 実装
type Index struct {
	points     pointSearcher
	conn       *grpc.ClientConn
	collection string
	apiKey     string
	logger     *slog.Logger
}

// Option は Index のオプション設定
type Option func(*Index)

// WithLogger は Index にロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		i.logger = logger
	}
}

// Dial は Qdrant に接続して Index を作成する。Close で接続を閉じること。
func Dial(cfg Config, opts ...Option) (*Index, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", addr, err)
	}

	idx := newIndex(qdrantclient.NewPointsClient(conn), cfg, opts...)
	idx.conn = conn
	return idx, nil
}

func newIndex(points pointSearcher, cfg Config, opts ...Option) *Index {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	idx := &Index{
		points:     points,
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	return idx
}

// Close は gRPC 接続を閉じる
func (i *Index) Close() error {
	if i.conn == nil {
		return nil
	}
	return i.conn.Close()
}

// Search は上位 topK 件の近傍チャンクを返す
func (i *Index) Search(ctx context.Context, queryVector []float32, topK int, filter search.Filter) ([]*search.QueryResult, error) {
	if i.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", i.apiKey)
	}

	resp, err := i.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: i.collection,
		Vector:         queryVector,
		Limit:          uint64(topK),
		Filter:         buildFilter(filter),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search in qdrant: %w", err)
	}

	results := make([]*search.QueryResult, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		results = append(results, &search.QueryResult{
			Score:    float64(point.GetScore()),
			Metadata: search.MetadataFromMap(payloadToMap(point.GetPayload())),
		})
	}

	i.logger.Debug("qdrant search completed",
		"collection", i.collection,
		"topK", topK,
		"matches", len(results),
	)

	return results, nil
}

// buildFilter は Filter を Qdrant の Must 条件に変換する。条件が無ければ nil。
func buildFilter(filter search.Filter) *qdrantclient.Filter {
	var must []*qdrantclient.Condition

	if !filter.Date.IsZero() {
		rng := &qdrantclient.Range{}
		if gte, ok := filter.Date.Gte.Get(); ok {
			v := float64(gte)
			rng.Gte = &v
		}
		if lte, ok := filter.Date.Lte.Get(); ok {
			v := float64(lte)
			rng.Lte = &v
		}
		must = append(must, fieldCondition(&qdrantclient.FieldCondition{
			Key:   search.FieldPublishedDate,
			Range: rng,
		}))
	}

	if level, ok := filter.Level.Get(); ok {
		must = append(must, fieldCondition(&qdrantclient.FieldCondition{
			Key: search.FieldLevel,
			Match: &qdrantclient.Match{
				MatchValue: &qdrantclient.Match_Keyword{Keyword: string(level)},
			},
		}))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrantclient.Filter{Must: must}
}

func fieldCondition(field *qdrantclient.FieldCondition) *qdrantclient.Condition {
	return &qdrantclient.Condition{
		ConditionOneOf: &qdrantclient.Condition_Field{Field: field},
	}
}

// payloadToMap は Qdrant のペイロードを汎用マップに変換する
func payloadToMap(payload map[string]*qdrantclient.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if v, ok := scalarValue(value); ok {
			out[key] = v
		}
	}
	return out
}

func scalarValue(value *qdrantclient.Value) (any, bool) {
	switch kind := value.GetKind().(type) {
	case *qdrantclient.Value_StringValue:
		return kind.StringValue, true
	case *qdrantclient.Value_IntegerValue:
		return kind.IntegerValue, true
	case *qdrantclient.Value_DoubleValue:
		return kind.DoubleValue, true
	case *qdrantclient.Value_BoolValue:
		return kind.BoolValue, true
	default:
		return nil, false
	}
}

// インターフェース実装の確認
var _ search.VectorIndex = (*Index)(nil)
