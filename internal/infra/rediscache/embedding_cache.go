// Package rediscache は Redis を使った Embedding のキャッシュを提供する
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/jinford/rag-query/internal/core/search"
)

// キャッシュの既定値
const (
	DefaultTTL         = 24 * time.Hour
	DefaultKeyPrefix   = "rag:emb"
	DefaultCallTimeout = 60 * time.Second
)

// CachedEmbedder は search.Embedder の結果を Redis にキャッシュするデコレータ。
// Redis の障害時はキャッシュを使わずに下位の Embedder を呼び出す。
type CachedEmbedder struct {
	next        search.Embedder
	rdb         redis.UniversalClient
	namespace   string
	ttl         time.Duration
	callTimeout time.Duration
	group       singleflight.Group
	logger      *slog.Logger
}

// Option は CachedEmbedder のオプション設定
type Option func(*CachedEmbedder)

// WithTTL はキャッシュの有効期限を設定する
func WithTTL(ttl time.Duration) Option {
	return func(c *CachedEmbedder) {
		c.ttl = ttl
	}
}

// WithCallTimeout は共有される Embedding 生成1回あたりの上限時間を設定する
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *CachedEmbedder) {
		c.callTimeout = timeout
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(c *CachedEmbedder) {
		c.logger = logger
	}
}

// NewCachedEmbedder は新しい CachedEmbedder を作成する。
// namespace にはモデル名を渡し、モデルを切り替えた際に古いベクトルを返さないようにする。
func NewCachedEmbedder(next search.Embedder, rdb redis.UniversalClient, namespace string, opts ...Option) *CachedEmbedder {
	c := &CachedEmbedder{
		next:        next,
		rdb:         rdb,
		namespace:   namespace,
		ttl:         DefaultTTL,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	return c
}

// NewClient は接続URL（例: redis://localhost:6379/0）から Redis クライアントを作成し、疎通を確認する
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Embed はキャッシュにあればそれを返し、なければ下位の Embedder で生成して保存する。
// 同じテキストへの同時リクエストは1回の生成にまとめる。
// 共有される生成は個々の呼び出し元のキャンセルから切り離し、各呼び出し元は自分の ctx でのみ待機を打ち切る。
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if vec, ok := c.get(ctx, key); ok {
		return vec, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		defer cancel()

		vec, err := c.next.Embed(callCtx, text)
		if err != nil {
			return nil, err
		}
		c.set(callCtx, key, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// 共有結果のため呼び出し側ごとにコピーを返す
		shared := res.Val.([]float32)
		out := make([]float32, len(shared))
		copy(out, shared)
		return out, nil
	}
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache get failed", "error", err)
		}
		return nil, false
	}

	vec, err := decodeVector(data)
	if err != nil {
		c.logger.Warn("embedding cache entry is corrupt", "key", key, "error", err)
		return nil, false
	}
	c.logger.Debug("embedding cache hit", "key", key)
	return vec, true
}

func (c *CachedEmbedder) set(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := c.rdb.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache set failed", "error", err)
	}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return DefaultKeyPrefix + ":" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

// encodeVector は float32 をリトルエンディアンで連結する
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

var _ search.Embedder = (*CachedEmbedder)(nil)
