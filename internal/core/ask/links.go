package ask

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jinford/rag-query/internal/core/search"
)

// DefaultLinkTemplate はファイル名の2要素から記事URLを組み立てる書式
const DefaultLinkTemplate = "https://stratechery.com/%s/%s/"

var chunkSuffixPattern = regexp.MustCompile(`\s*-\s*Chunk\s*\d+$`)

// CleanTitle はタイトル末尾の "- Chunk N" を取り除く
func CleanTitle(title string) string {
	return chunkSuffixPattern.ReplaceAllString(title, "")
}

// LinkURL はファイル名 "<年>_<スラッグ>.json" を template に当てはめてURLを返す。
// "_" 区切りで2要素に満たない場合は false を返す。
func LinkURL(fileName, template string) (string, bool) {
	parts := strings.Split(fileName, "_")
	if len(parts) < 2 || parts[0] == "" {
		return "", false
	}
	slug := strings.Replace(parts[1], ".json", "", 1)
	return fmt.Sprintf(template, parts[0], slug), true
}

// BuildLinks は検索結果から表示用リンクを作り、重複を除いて出現順に返す
func BuildLinks(results []*search.QueryResult, template string) []Link {
	if template == "" {
		template = DefaultLinkTemplate
	}

	links := make([]Link, 0, len(results))
	for _, r := range results {
		url, ok := LinkURL(r.Metadata.FileName, template)
		if !ok {
			continue
		}
		links = append(links, Link{Title: CleanTitle(r.Metadata.Title), URL: url})
	}
	return DeduplicateLinks(links)
}

// DeduplicateLinks は (タイトル, URL) の組が重複するリンクを取り除く。最初の出現順を保つ。
func DeduplicateLinks(links []Link) []Link {
	seen := make(map[string]struct{}, len(links))
	unique := make([]Link, 0, len(links))
	for _, l := range links {
		key := l.Title + "|" + l.URL
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, l)
	}
	return unique
}
