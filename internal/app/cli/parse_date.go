package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/jinford/rag-query/internal/core/temporal"
)

// ParseDateAction は質問文から導出される日付フィルタを表示する。
// 外部サービスには接続しない。
func ParseDateAction(ctx context.Context, cmd *cli.Command) error {
	text := cmd.Args().First()
	if text == "" {
		return fmt.Errorf("解析する文字列を指定してください")
	}

	opts := []temporal.ParserOption{}
	if tz := cmd.String("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("タイムゾーンの読み込みに失敗: %w", err)
		}
		opts = append(opts, temporal.WithLocation(loc))
	}

	printDateFilter(cmd.Root().Writer, temporal.NewParser(opts...).Parse(text))
	return nil
}

func printDateFilter(w io.Writer, filter *temporal.DateFilter) {
	label := color.New(color.FgGreen, color.Bold).SprintFunc()

	if filter == nil {
		fmt.Fprintf(w, "%s none\n", label("filter:"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", label("filter:"), filter.String())
	if gte, ok := filter.Gte.Get(); ok {
		fmt.Fprintf(w, "%s %d (%s)\n", label("gte:"), gte, time.Unix(gte, 0).UTC().Format(time.RFC3339))
	}
	if lte, ok := filter.Lte.Get(); ok {
		fmt.Fprintf(w, "%s %d (%s)\n", label("lte:"), lte, time.Unix(lte, 0).UTC().Format(time.RFC3339))
	}
}
