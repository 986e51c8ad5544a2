package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// プロバイダ・インデックスの識別子
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	IndexPinecone = "pinecone"
	IndexQdrant   = "qdrant"
	IndexPgvector = "pgvector"

	StrategySingle       = "single"
	StrategyHierarchical = "hierarchical"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// プロバイダ選択
	Providers ProvidersConfig

	// OpenAI設定（Embeddings + LLM）
	OpenAI OpenAIConfig

	// Ollama設定（Embeddings + LLM）
	Ollama OllamaConfig

	// ベクトルインデックス設定
	Pinecone PineconeConfig
	Qdrant   QdrantConfig
	Database DatabaseConfig

	// Embedding キャッシュ設定（Redis）
	Cache CacheConfig

	// 検索・回答生成の設定
	RAG RAGConfig

	// HTTPサーバー設定
	Server ServerConfig

	// ログ設定
	Log LogConfig
}

// ProvidersConfig は利用するプロバイダとインデックスの選択
type ProvidersConfig struct {
	Embedding   string // "openai" or "ollama"
	LLM         string // "openai" or "ollama"
	VectorIndex string // "pinecone", "qdrant" or "pgvector"
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
	Temperature        float64
	MaxTokens          int
	Timeout            time.Duration
}

// OllamaConfig はOllamaサーバー設定
type OllamaConfig struct {
	Host           string
	EmbeddingModel string
	LLMModel       string
	Temperature    float64
	Timeout        time.Duration
}

// PineconeConfig はPinecone設定
type PineconeConfig struct {
	APIKey    string
	Index     string
	Host      string // 空の場合はコントロールプレーンから解決する
	Namespace string
}

// QdrantConfig はQdrant設定
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// DatabaseConfig はデータベース接続設定（pgvector）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
}

// CacheConfig は Embedding キャッシュ設定
type CacheConfig struct {
	RedisURL string // 空の場合はキャッシュしない
	TTL      time.Duration
}

// RAGConfig は検索・回答生成の設定
type RAGConfig struct {
	Strategy           string // "single" or "hierarchical"
	SingleTopK         int
	SummaryTopK        int
	SectionTopK        int
	DateFilteredTopK   int
	QueryTimeout       time.Duration
	EscalationFallback bool
	LinkTemplate       string
	ContextTokenBudget int  // 0 で無制限
	RelativeRangeFirst bool // "in the last N ..." を最新キーワードより優先する
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Addr            string
	RateLimit       float64 // 1秒あたりのリクエスト数。0 以下で無制限
	RateBurst       int
	ShutdownTimeout time.Duration
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Providers: ProvidersConfig{
			Embedding:   strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI)),
			LLM:         strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			VectorIndex: strings.ToLower(getEnv("VECTOR_INDEX", IndexPinecone)),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			Temperature:        getEnvAsFloat("OPENAI_TEMPERATURE", 0.2),
			MaxTokens:          getEnvAsInt("OPENAI_MAX_TOKENS", 0),
			Timeout:            getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Ollama: OllamaConfig{
			Host:           getEnv("OLLAMA_HOST", "http://localhost:11434"),
			EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			LLMModel:       getEnv("OLLAMA_LLM_MODEL", "llama3.2"),
			Temperature:    getEnvAsFloat("OLLAMA_TEMPERATURE", 0.0),
			Timeout:        getEnvAsDuration("OLLAMA_TIMEOUT", 60*time.Second),
		},
		Pinecone: PineconeConfig{
			APIKey:    getEnv("PINECONE_API_KEY", ""),
			Index:     getEnv("PINECONE_INDEX", "stratechery-rag-demo"),
			Host:      getEnv("PINECONE_HOST", ""),
			Namespace: getEnv("PINECONE_NAMESPACE", ""),
		},
		Qdrant: QdrantConfig{
			Host:       getEnv("QDRANT_HOST", "localhost"),
			Port:       getEnvAsInt("QDRANT_PORT", 6334),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			UseTLS:     getEnvAsBool("QDRANT_USE_TLS", false),
			Collection: getEnv("QDRANT_COLLECTION", "stratechery-rag-demo"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "rag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "rag_query"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Table:    getEnv("DB_CHUNK_TABLE", "rag_chunks"),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("EMBEDDING_CACHE_REDIS_URL", ""),
			TTL:      getEnvAsDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),
		},
		RAG: RAGConfig{
			Strategy:           strings.ToLower(getEnv("RAG_STRATEGY", StrategyHierarchical)),
			SingleTopK:         getEnvAsInt("SINGLE_PASS_TOP_K", 5),
			SummaryTopK:        getEnvAsInt("SUMMARY_TOP_K", 5),
			SectionTopK:        getEnvAsInt("SECTION_TOP_K", 3),
			DateFilteredTopK:   getEnvAsInt("DATE_FILTERED_TOP_K", 5),
			QueryTimeout:       getEnvAsDuration("RAG_QUERY_TIMEOUT", 60*time.Second),
			EscalationFallback: getEnvAsBool("RAG_ESCALATION_FALLBACK", false),
			LinkTemplate:       getEnv("RAG_LINK_TEMPLATE", "https://stratechery.com/%s/%s/"),
			ContextTokenBudget: getEnvAsInt("ANSWER_CONTEXT_TOKEN_BUDGET", 0),
			RelativeRangeFirst: getEnvAsBool("DATE_RELATIVE_RANGE_FIRST", false),
		},
		Server: ServerConfig{
			Addr:            getEnv("SERVER_ADDR", ":8080"),
			RateLimit:       getEnvAsFloat("SERVER_RATE_LIMIT", 10),
			RateBurst:       getEnvAsInt("SERVER_RATE_BURST", 20),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は列挙値と数値の範囲を検証します
func (c *Config) Validate() error {
	var errs []error

	if !oneOf(c.Providers.Embedding, ProviderOpenAI, ProviderOllama) {
		errs = append(errs, fmt.Errorf("EMBEDDING_PROVIDER must be openai or ollama, got %q", c.Providers.Embedding))
	}
	if !oneOf(c.Providers.LLM, ProviderOpenAI, ProviderOllama) {
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be openai or ollama, got %q", c.Providers.LLM))
	}
	if !oneOf(c.Providers.VectorIndex, IndexPinecone, IndexQdrant, IndexPgvector) {
		errs = append(errs, fmt.Errorf("VECTOR_INDEX must be pinecone, qdrant or pgvector, got %q", c.Providers.VectorIndex))
	}
	if !oneOf(c.RAG.Strategy, StrategySingle, StrategyHierarchical) {
		errs = append(errs, fmt.Errorf("RAG_STRATEGY must be single or hierarchical, got %q", c.RAG.Strategy))
	}
	if !oneOf(c.Log.Format, "json", "text") {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}

	for name, v := range map[string]int{
		"SINGLE_PASS_TOP_K":   c.RAG.SingleTopK,
		"SUMMARY_TOP_K":       c.RAG.SummaryTopK,
		"SECTION_TOP_K":       c.RAG.SectionTopK,
		"DATE_FILTERED_TOP_K": c.RAG.DateFilteredTopK,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", name, v))
		}
	}
	if strings.Count(c.RAG.LinkTemplate, "%s") != 2 {
		errs = append(errs, fmt.Errorf("RAG_LINK_TEMPLATE must contain exactly two %%s, got %q", c.RAG.LinkTemplate))
	}

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "30s", "2m"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
