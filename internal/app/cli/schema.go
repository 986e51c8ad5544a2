package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/rag-query/internal/infra/postgres"
	"github.com/jinford/rag-query/internal/platform/logger"
	"github.com/jinford/rag-query/pkg/config"
	"github.com/jinford/rag-query/pkg/db"
)

// InitSchemaAction は pgvector 用のチャンクテーブルとインデックスを作成する。
// 検索用のプロバイダには接続しないため、APIキーが未設定でも実行できる。
func InitSchemaAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	log := logger.New(logger.ParseConfig(cfg.Log.Level, cfg.Log.Format))

	dimension := cfg.OpenAI.EmbeddingDimension
	if cmd.IsSet("dimension") {
		dimension = int(cmd.Int("dimension"))
	}

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer database.Close()

	if err := postgres.EnsureSchema(ctx, database.Pool, cfg.Database.Table, dimension); err != nil {
		return err
	}

	log.Info("スキーマを作成しました", "table", cfg.Database.Table, "dimension", dimension)
	return nil
}
