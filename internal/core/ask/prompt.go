package ask

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinford/rag-query/internal/core/search"
)

// BuildAnswerPrompt はRAG質問応答用のプロンプトを構築する
func BuildAnswerPrompt(query string, chunks []*search.QueryResult, detail DetailLevel) string {
	var sb strings.Builder

	// システムプロンプトとガイドライン
	sb.WriteString("You are a helpful assistant that answers questions based on the provided context. ")
	sb.WriteString("Use only the information in the context below. ")
	sb.WriteString("If the context doesn't contain enough relevant information to answer, say so explicitly.\n")

	switch detail {
	case DetailSummary:
		sb.WriteString("The context consists of summary-level excerpts (detail level: summary). Answer concisely from them.\n")
	case DetailFull:
		sb.WriteString("The context consists of full article sections (detail level: full). Provide a more detailed answer than a summary would.\n")
	}

	sb.WriteString("\nContext:\n")
	sb.WriteString(BuildContext(chunks))
	sb.WriteString("\n\n")

	// ユーザーの質問
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Answer:")

	return sb.String()
}

// BuildContext は検索結果を空行区切りのコンテキストテキストに整形する
func BuildContext(chunks []*search.QueryResult) string {
	blocks := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		blocks = append(blocks, formatChunk(chunk))
	}
	return strings.Join(blocks, "\n\n")
}

// formatChunk はチャンク1件をタイトル・公開日・本文の形式で整形する
func formatChunk(chunk *search.QueryResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title: %s\n", chunk.Metadata.Title))
	// 公開日が不明なチャンクは日付行を省く
	if chunk.Metadata.PublishedDate > 0 {
		date := time.Unix(chunk.Metadata.PublishedDate, 0).UTC().Format(time.DateOnly)
		sb.WriteString(fmt.Sprintf("Published Date: %s\n", date))
	}
	sb.WriteString(fmt.Sprintf("Content: %s", chunk.Metadata.Content))
	return sb.String()
}

// BuildSufficiencyPrompt は回答が十分かどうかを判定させるプロンプトを構築する
func BuildSufficiencyPrompt(query, answer string) string {
	var sb strings.Builder

	sb.WriteString("You are reviewing whether an answer fully addresses a question.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString("Answer: ")
	sb.WriteString(answer)
	sb.WriteString("\n\n")
	sb.WriteString("Does this answer fully address the question, or is more detail required? ")
	sb.WriteString("Reply \"Yes\" if more detail is required, or \"No\" if the answer is sufficient.")

	return sb.String()
}
