package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultShutdownTimeout はグレースフルシャットダウンの既定待ち時間
const DefaultShutdownTimeout = 10 * time.Second

// Server は質問応答APIのHTTPサーバー
type Server struct {
	addr            string
	answerer        Answerer
	gatherer        prometheus.Gatherer
	recorder        RequestRecorder
	rateLimit       float64
	rateBurst       int
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// ServerOption は Server のオプション設定
type ServerOption func(*Server)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics は /metrics の公開元とリクエスト記録先を設定する
func WithMetrics(gatherer prometheus.Gatherer, recorder RequestRecorder) ServerOption {
	return func(s *Server) {
		s.gatherer = gatherer
		s.recorder = recorder
	}
}

// WithRateLimit はクライアントごとの流量制限を設定する
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimit = rps
		s.rateBurst = burst
	}
}

// WithShutdownTimeout はシャットダウン時の待ち時間を設定する
func WithShutdownTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// NewServer は新しい Server を作成する
func NewServer(addr string, answerer Answerer, opts ...ServerOption) *Server {
	s := &Server{
		addr:            addr,
		answerer:        answerer,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler はルーティングとミドルウェアを組み立てたハンドラを返す。
// ctx はレートリミッタの掃除用 goroutine の寿命になる。
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	rag := Chain(NewRAGHandler(s.answerer, s.logger), RateLimiter(ctx, s.rateLimit, s.rateBurst))
	mux.Handle("POST /api/rag", rag)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return Chain(mux,
		RequestID(),
		Recovery(s.logger),
		AccessLog(s.logger, s.recorder),
	)
}

// Run はサーバーを起動し、ctx がキャンセルされるとグレースフルにシャットダウンする
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
