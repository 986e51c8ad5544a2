package cli

import (
	"github.com/urfave/cli/v3"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

// NewApp はコマンドツリーを組み立てる
func NewApp() *cli.Command {
	return &cli.Command{
		Name:  "rag-query",
		Usage: "日付フィルタと階層検索に対応した RAG 質問応答システム",
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "質問に回答する",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照したチャンクを表示",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "結果をJSONで出力",
					},
				},
				Action: AskAction,
			},
			{
				Name:  "serve",
				Usage: "HTTPサーバを起動",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "addr",
						Usage: "待ち受けアドレス（省略時は SERVER_ADDR またはデフォルトの :8080）",
					},
				},
				Action: ServeAction,
			},
			{
				Name:      "parse-date",
				Usage:     "質問文から導出される日付フィルタを表示",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "tz",
						Usage: "暦の解釈に使うタイムゾーン（例: Asia/Tokyo）。省略時はローカル",
					},
				},
				Action: ParseDateAction,
			},
			{
				Name:  "init-schema",
				Usage: "pgvector 用のチャンクテーブルを作成",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{
						Name:  "dimension",
						Usage: "Embedding の次元数（省略時は OPENAI_EMBEDDING_DIMENSION）",
					},
				},
				Action: InitSchemaAction,
			},
		},
	}
}
