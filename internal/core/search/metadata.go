package search

import (
	"encoding/json"
	"math"
	"strconv"
)

// メタデータのキー名（インデックス側のフィールド名）
const (
	FieldTitle            = "title"
	FieldContent          = "content"
	FieldTruncatedContent = "truncated_content"
	FieldFileName         = "file_name"
	FieldChunkIndex       = "chunk_index"
	FieldPublishedDate    = "published_date"
	FieldLevel            = "level"
)

// MetadataFromMap はインデックスが返した汎用メタデータを ChunkMetadata に変換する。
// 欠落・型不一致のフィールドは既定値（title は "Untitled"、それ以外はゼロ値）になる。
// content が無い場合は truncated_content を使う。
func MetadataFromMap(m map[string]any) ChunkMetadata {
	meta := ChunkMetadata{
		Title:         stringField(m, FieldTitle),
		Content:       stringField(m, FieldContent),
		FileName:      stringField(m, FieldFileName),
		ChunkIndex:    int(numberField(m, FieldChunkIndex)),
		PublishedDate: numberField(m, FieldPublishedDate),
	}
	if meta.Title == "" {
		meta.Title = DefaultTitle
	}
	if meta.Content == "" {
		meta.Content = stringField(m, FieldTruncatedContent)
	}
	if level, err := ParseLevel(stringField(m, FieldLevel)); err == nil {
		meta.Level = level
	}
	return meta
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// numberField は JSON 由来の数値表現をまとめて int64 に丸める
func numberField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case float32:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
