package search

import (
	"fmt"

	"github.com/samber/mo"

	"github.com/jinford/rag-query/internal/core/temporal"
)

// Level はチャンクの階層（粒度）を表す
type Level string

const (
	// LevelSummary は要約（粗い粒度）のチャンク
	LevelSummary Level = "summary"
	// LevelSection はセクション（詳細な粒度）のチャンク
	LevelSection Level = "section"
)

// ParseLevel は文字列を Level に変換する
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelSummary, LevelSection:
		return Level(s), nil
	default:
		return "", fmt.Errorf("unknown chunk level: %q", s)
	}
}

// メタデータ欠落時の既定値
const (
	DefaultTitle = "Untitled"
)

// ChunkMetadata はベクトルインデックスに格納されたチャンクのメタデータ
type ChunkMetadata struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	FileName      string `json:"file_name"`
	ChunkIndex    int    `json:"chunk_index"`
	PublishedDate int64  `json:"published_date"`
	Level         Level  `json:"level,omitempty"`
}

// QueryResult はベクトル検索の結果1件を表す
type QueryResult struct {
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Filter は検索時の任意フィルタを表す
type Filter struct {
	Date  *temporal.DateFilter
	Level mo.Option[Level]
}

// LevelFilter は階層のみを指定したフィルタを返す
func LevelFilter(level Level) Filter {
	return Filter{Level: mo.Some(level)}
}

// DateRangeFilter は公開日の範囲のみを指定したフィルタを返す
func DateRangeFilter(date *temporal.DateFilter) Filter {
	return Filter{Date: date}
}

// IsZero は条件が何も指定されていないかを返す
func (f Filter) IsZero() bool {
	return f.Date.IsZero() && f.Level.IsAbsent()
}
