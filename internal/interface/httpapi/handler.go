package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jinford/rag-query/internal/core/ask"
	"github.com/jinford/rag-query/internal/core/search"
)

// maxRequestBodyBytes はリクエストボディの上限
const maxRequestBodyBytes = 1 << 20

// Answerer は質問応答のエントリポイント
type Answerer interface {
	Answer(ctx context.Context, query string) (*ask.AnswerResult, error)
}

type ragRequest struct {
	Query string `json:"query"`
}

type ragStats struct {
	QuerySimilarContentTime float64        `json:"querySimilarContentTime"`
	GenerateResponseTime    float64        `json:"generateResponseTime"`
	TotalRAGTime            float64        `json:"totalRAGTime"`
	Links                   []ask.Link     `json:"links"`
	TokenUsage              ask.TokenUsage `json:"tokenUsage"`
}

type ragResponse struct {
	RAGResults  []*search.QueryResult `json:"ragResults"`
	LLMResponse string                `json:"llmResponse"`
	RAGStats    ragStats              `json:"ragStats"`
	Level       ask.DetailLevel       `json:"level,omitempty"`
	Strategy    ask.StrategyName      `json:"strategy"`
	Degraded    bool                  `json:"degraded,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RAGHandler は POST /api/rag を処理する
type RAGHandler struct {
	answerer Answerer
	logger   *slog.Logger
}

// NewRAGHandler は新しい RAGHandler を作成する
func NewRAGHandler(answerer Answerer, logger *slog.Logger) *RAGHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGHandler{answerer: answerer, logger: logger}
}

func (h *RAGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Details: "query is required"})
		return
	}

	result, err := h.answerer.Answer(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, ask.ErrInvalidQuery) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Details: err.Error()})
			return
		}
		h.logger.Error("RAG query error",
			"kind", ask.ErrorKind(err),
			"error", err,
			"requestID", RequestIDFromContext(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to process query", Details: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, newRAGResponse(result))
}

func newRAGResponse(result *ask.AnswerResult) ragResponse {
	results := result.Results
	if results == nil {
		results = []*search.QueryResult{}
	}
	links := result.Stats.Links
	if links == nil {
		links = []ask.Link{}
	}
	return ragResponse{
		RAGResults:  results,
		LLMResponse: result.Answer,
		RAGStats: ragStats{
			QuerySimilarContentTime: milliseconds(result.Stats.RetrievalLatency),
			GenerateResponseTime:    milliseconds(result.Stats.GenerationLatency),
			TotalRAGTime:            milliseconds(result.Stats.TotalLatency),
			Links:                   links,
			TokenUsage:              result.Stats.TokenUsage,
		},
		Level:    result.Level,
		Strategy: result.Strategy,
		Degraded: result.Degraded,
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
