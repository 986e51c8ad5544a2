package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/rag-query/internal/interface/httpapi"
)

// ServeAction はHTTPサーバーを起動するアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	addr := cfg.Server.Addr
	if cmd.IsSet("addr") {
		addr = cmd.String("addr")
	}

	server := httpapi.NewServer(addr, appCtx.Container.AskService,
		httpapi.WithServerLogger(appCtx.Logger()),
		httpapi.WithMetrics(appCtx.Container.Registry, appCtx.Container.Metrics),
		httpapi.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		httpapi.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	return server.Run(ctx)
}
