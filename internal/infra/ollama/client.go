package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/samber/mo"

	"github.com/jinford/rag-query/internal/core/ask"
	"github.com/jinford/rag-query/internal/core/search"
)

const (
	// DefaultHost はOllamaサーバーの既定アドレス
	DefaultHost = "http://localhost:11434"
	// DefaultModel は生成に使う既定モデル
	DefaultModel = "llama3.2"
	// DefaultEmbeddingModel はEmbeddingに使う既定モデル
	DefaultEmbeddingModel = "nomic-embed-text"
	// DefaultTimeout はHTTPクライアントのタイムアウト
	DefaultTimeout = 60 * time.Second
)

// ErrEmptyResponse は応答に生成結果やベクトルが含まれない場合のエラー
var ErrEmptyResponse = errors.New("ollama returned an empty response")

// NewAPIClient は host を解釈して Ollama APIクライアントを作成する
func NewAPIClient(host string, timeout time.Duration) (*api.Client, error) {
	if host == "" {
		host = DefaultHost
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return api.NewClient(base, &http.Client{Timeout: timeout}), nil
}

// Client は Ollama の generate API を使用した LLM クライアント実装
type Client struct {
	api     *api.Client
	model   string
	options map[string]any
}

// NewClient は新しい Client を作成する。temperature が None の場合はモデル既定値を使う。
func NewClient(apiClient *api.Client, model string, temperature mo.Option[float64]) *Client {
	if model == "" {
		model = DefaultModel
	}
	options := map[string]any{}
	if t, ok := temperature.Get(); ok {
		options["temperature"] = t
	}
	return &Client{
		api:     apiClient,
		model:   model,
		options: options,
	}
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Complete はプロンプトを非ストリーミングで送信し、生成結果を返す
func (c *Client) Complete(ctx context.Context, prompt string) (*ask.Completion, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: c.options,
	}

	var (
		text  strings.Builder
		final *api.GenerateResponse
	)
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		if resp.Done {
			r := resp
			final = &r
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate failed: %w", err)
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	completion := &ask.Completion{
		Text:  text.String(),
		Usage: mo.None[ask.TokenUsage](),
		Model: c.model,
	}
	if final != nil {
		completion.Model = final.Model
		if final.PromptEvalCount > 0 || final.EvalCount > 0 {
			completion.Usage = mo.Some(ask.TokenUsage{
				PromptTokens:     final.PromptEvalCount,
				CompletionTokens: final.EvalCount,
				TotalTokens:      final.PromptEvalCount + final.EvalCount,
			})
		}
	}

	return completion, nil
}

// Embedder は Ollama の embed API を使用してテキストをベクトルに変換する
type Embedder struct {
	api   *api.Client
	model string
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiClient *api.Client, model string) *Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{api: apiClient, model: model}
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.api.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0], nil
}

// インターフェース実装の確認
var (
	_ ask.LLMClient   = (*Client)(nil)
	_ search.Embedder = (*Embedder)(nil)
)
