package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jinford/rag-query/internal/core/search"
)

const (
	// DefaultIndexName は既定のPineconeインデックス名
	DefaultIndexName = "stratechery-rag-demo"
	// DefaultControllerURL はインデックスのホスト解決に使うコントロールプレーンURL
	DefaultControllerURL = "https://api.pinecone.io"
	// DefaultTimeout はHTTPクライアントのタイムアウト
	DefaultTimeout = 30 * time.Second
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("pinecone API key not set: please set PINECONE_API_KEY environment variable")

// Config は Pinecone インデックスへの接続設定
type Config struct {
	APIKey string
	// Index は Host が空の場合にコントロールプレーンからホストを解決するのに使う
	Index string
	// Host はデータプレーンのURL（https://<index>-<project>.svc.<region>.pinecone.io）
	Host          string
	Namespace     string
	ControllerURL string
	Timeout       time.Duration
}

// Index は Pinecone の REST API を使用した search.VectorIndex 実装
type Index struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu   sync.RWMutex
	host string
}

// Option は Index のオプション設定
type Option func(*Index)

// WithLogger は Index にロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		i.logger = logger
	}
}

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(client *http.Client) Option {
	return func(i *Index) {
		i.client = client
	}
}

// NewIndex は新しい Index を作成する
func NewIndex(cfg Config, opts ...Option) (*Index, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndexName
	}
	if cfg.ControllerURL == "" {
		cfg.ControllerURL = DefaultControllerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	idx := &Index{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default(),
		host:   normalizeHost(cfg.Host),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	return idx, nil
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"matches"`
}

// Search は上位 topK 件の近傍チャンクを返す
func (i *Index) Search(ctx context.Context, queryVector []float32, topK int, filter search.Filter) ([]*search.QueryResult, error) {
	req := queryRequest{
		Vector:          queryVector,
		TopK:            topK,
		Namespace:       strings.TrimSpace(i.cfg.Namespace),
		Filter:          buildFilter(filter),
		IncludeMetadata: true,
	}

	var resp queryResponse
	if err := i.doJSON(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}

	results := make([]*search.QueryResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		results = append(results, &search.QueryResult{
			Score:    m.Score,
			Metadata: search.MetadataFromMap(m.Metadata),
		})
	}

	i.logger.Debug("pinecone query completed",
		"index", i.cfg.Index,
		"topK", topK,
		"matches", len(results),
	)

	return results, nil
}

// buildFilter は Filter を Pinecone のメタデータフィルタに変換する。条件が無ければ nil。
func buildFilter(filter search.Filter) map[string]any {
	out := map[string]any{}

	if !filter.Date.IsZero() {
		rng := map[string]any{}
		if gte, ok := filter.Date.Gte.Get(); ok {
			rng["$gte"] = gte
		}
		if lte, ok := filter.Date.Lte.Get(); ok {
			rng["$lte"] = lte
		}
		out[search.FieldPublishedDate] = rng
	}

	if level, ok := filter.Level.Get(); ok {
		out[search.FieldLevel] = map[string]any{"$eq": string(level)}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// ensureHost は Host 未指定時にコントロールプレーンからデータプレーンのホストを解決する
func (i *Index) ensureHost(ctx context.Context) (string, error) {
	i.mu.RLock()
	host := i.host
	i.mu.RUnlock()
	if host != "" {
		return host, nil
	}

	controller := strings.TrimRight(strings.TrimSpace(i.cfg.ControllerURL), "/")
	endpoint := fmt.Sprintf("%s/indexes/%s", controller, url.PathEscape(i.cfg.Index))

	var describe struct {
		Host string `json:"host"`
	}
	if err := i.send(ctx, http.MethodGet, endpoint, nil, &describe); err != nil {
		return "", fmt.Errorf("failed to describe pinecone index %q: %w", i.cfg.Index, err)
	}

	host = normalizeHost(describe.Host)
	if host == "" {
		return "", fmt.Errorf("pinecone controller returned empty host for index %q", i.cfg.Index)
	}

	i.mu.Lock()
	i.host = host
	i.mu.Unlock()

	i.logger.Info("resolved pinecone index host", "index", i.cfg.Index, "host", host)
	return host, nil
}

func (i *Index) doJSON(ctx context.Context, method, path string, in, out any) error {
	host, err := i.ensureHost(ctx)
	if err != nil {
		return err
	}
	return i.send(ctx, method, host+path, in, out)
}

func (i *Index) send(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode pinecone request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", i.cfg.APIKey)

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pinecone request failed: method=%s status=%d body=%s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode pinecone response: %w", err)
	}
	return nil
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/")
}

// インターフェース実装の確認
var _ search.VectorIndex = (*Index)(nil)
