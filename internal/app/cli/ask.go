package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	coreask "github.com/jinford/rag-query/internal/core/ask"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	showSources := cmd.Bool("show-sources")
	asJSON := cmd.Bool("json")
	envFile := cmd.String("env")

	// 質問文の取得
	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.AskService.Answer(ctx, question)
	if err != nil {
		return fmt.Errorf("質問応答に失敗 (%s): %w", coreask.ErrorKind(err), err)
	}

	if asJSON {
		return writeAnswerJSON(cmd.Root().Writer, result)
	}
	printAnswer(cmd.Root().Writer, result, showSources)
	return nil
}

func writeAnswerJSON(w io.Writer, result *coreask.AnswerResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("結果のJSON出力に失敗: %w", err)
	}
	return nil
}

// printAnswer は回答・参照リンク・統計情報を端末向けに出力する
func printAnswer(w io.Writer, result *coreask.AnswerResult, showSources bool) {
	heading := color.New(color.FgCyan, color.Bold).SprintFunc()
	label := color.New(color.FgGreen, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintln(w, result.Answer)

	if result.Degraded {
		fmt.Fprintln(w, warn("\n(詳細な回答の生成に失敗したため、要約からの回答を表示しています)"))
	}

	if len(result.Stats.Links) > 0 {
		fmt.Fprintf(w, "\n%s\n", heading("--- 参照記事 ---"))
		for _, link := range result.Stats.Links {
			fmt.Fprintf(w, "- %s %s\n", link.Title, dim(link.URL))
		}
	}

	if showSources && len(result.Results) > 0 {
		fmt.Fprintf(w, "\n%s\n", heading("--- 参照チャンク ---"))
		for i, r := range result.Results {
			published := "-"
			if r.Metadata.PublishedDate > 0 {
				published = time.Unix(r.Metadata.PublishedDate, 0).UTC().Format(time.DateOnly)
			}
			fmt.Fprintf(w, "[%d] %s (%s, chunk %d, %s) スコア: %.4f\n",
				i+1,
				r.Metadata.Title,
				r.Metadata.FileName,
				r.Metadata.ChunkIndex,
				published,
				r.Score,
			)
		}
	}

	stats := result.Stats
	level := string(result.Level)
	if level == "" {
		level = "-"
	}
	fmt.Fprintf(w, "\n%s strategy=%s level=%s retrieval=%s generation=%s total=%s tokens=%d\n",
		label("stats:"),
		result.Strategy,
		level,
		stats.RetrievalLatency.Round(time.Millisecond),
		stats.GenerationLatency.Round(time.Millisecond),
		stats.TotalLatency.Round(time.Millisecond),
		stats.TokenUsage.TotalTokens,
	)
}
