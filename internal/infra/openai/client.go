package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/samber/mo"

	"github.com/jinford/rag-query/internal/core/ask"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrNoChoices は応答に選択肢が含まれない場合のエラー
	ErrNoChoices = errors.New("no completion choices returned")
)

// Client は OpenAI Chat Completions API を使用した LLM クライアント実装。
// 1回の Complete につきAPIを1回だけ呼び出し、SDK のリトライも無効化する。
type Client struct {
	client      openai.Client
	model       string
	temperature mo.Option[float64]
	maxTokens   int
	timeout     time.Duration
}

type clientOptions struct {
	model       string
	baseURL     string
	temperature mo.Option[float64]
	maxTokens   int
	timeout     time.Duration
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL はAPIのベースURLを上書きする（互換APIやテスト用）
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// WithTemperature は生成時の temperature を指定する
func WithTemperature(temperature float64) ClientOption {
	return func(o *clientOptions) {
		o.temperature = mo.Some(temperature)
	}
}

// WithMaxTokens は生成トークン数の上限を指定する。0 以下で無指定。
func WithMaxTokens(maxTokens int) ClientOption {
	return func(o *clientOptions) {
		o.maxTokens = maxTokens
	}
}

// WithTimeout はAPIコール1回あたりのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// NewClient はAPIキーを指定して Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{
		model:   DefaultModel,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Client{
		client:      openai.NewClient(requestOptions(apiKey, options.baseURL)...),
		model:       options.model,
		temperature: options.temperature,
		maxTokens:   options.maxTokens,
		timeout:     options.timeout,
	}, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Complete はプロンプトを1件のユーザーメッセージとして送信し、生成結果を返す
func (c *Client) Complete(ctx context.Context, prompt string) (*ask.Completion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if temperature, ok := c.temperature.Get(); ok {
		params.Temperature = openai.Float(temperature)
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, ErrNoChoices
	}

	return &ask.Completion{
		Text:  completion.Choices[0].Message.Content,
		Usage: usageOf(completion.Usage),
		Model: string(completion.Model),
	}, nil
}

// usageOf は使用量を変換する。すべて0の場合は未報告として扱う。
func usageOf(u openai.CompletionUsage) mo.Option[ask.TokenUsage] {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return mo.None[ask.TokenUsage]()
	}
	return mo.Some(ask.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	})
}

func requestOptions(apiKey, baseURL string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

// インターフェース実装の確認
var _ ask.LLMClient = (*Client)(nil)
