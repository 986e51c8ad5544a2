package ask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jinford/rag-query/internal/core/search"
)

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Aggregation Theory", CleanTitle("Aggregation Theory - Chunk 3"))
	assert.Equal(t, "Aggregation Theory", CleanTitle("Aggregation Theory-Chunk12"))
	assert.Equal(t, "Chunk 3 of history", CleanTitle("Chunk 3 of history"))
	assert.Equal(t, "Untitled", CleanTitle("Untitled"))
}

func TestLinkURL(t *testing.T) {
	tests := []struct {
		fileName string
		want     string
		ok       bool
	}{
		{fileName: "2023_meta-earnings.json", want: "https://stratechery.com/2023/meta-earnings/", ok: true},
		{fileName: "2015_aggregation-theory_part2.json", want: "https://stratechery.com/2015/aggregation-theory/", ok: true},
		{fileName: "2019_notes", want: "https://stratechery.com/2019/notes/", ok: true},
		{fileName: "no-underscore.json", ok: false},
		{fileName: "_slug.json", ok: false},
		{fileName: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			got, ok := LinkURL(tt.fileName, DefaultLinkTemplate)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildLinks(t *testing.T) {
	results := []*search.QueryResult{
		chunk(0.9, "Meta Earnings - Chunk 1", "2023_meta-earnings.json", 0, search.LevelSection),
		chunk(0.8, "Meta Earnings - Chunk 2", "2023_meta-earnings.json", 0, search.LevelSection),
		chunk(0.7, "Broken", "broken.json", 0, search.LevelSection),
		chunk(0.6, "Threads", "2023_threads.json", 0, search.LevelSection),
	}

	links := BuildLinks(results, "")
	require.Len(t, links, 2)
	assert.Equal(t, Link{Title: "Meta Earnings", URL: "https://stratechery.com/2023/meta-earnings/"}, links[0])
	assert.Equal(t, Link{Title: "Threads", URL: "https://stratechery.com/2023/threads/"}, links[1])

	custom := BuildLinks(results[:1], "https://example.com/%s/%s")
	require.Len(t, custom, 1)
	assert.Equal(t, "https://example.com/2023/meta-earnings", custom[0].URL)
}

func TestDeduplicateLinks_Properties(t *testing.T) {
	linkGen := rapid.Custom(func(t *rapid.T) Link {
		return Link{
			Title: rapid.SampledFrom([]string{"A", "B", "C"}).Draw(t, "title"),
			URL:   rapid.SampledFrom([]string{"u1", "u2"}).Draw(t, "url"),
		}
	})

	rapid.Check(t, func(t *rapid.T) {
		links := rapid.SliceOf(linkGen).Draw(t, "links")

		once := DeduplicateLinks(links)
		twice := DeduplicateLinks(once)

		// 冪等
		if len(once) != len(twice) {
			t.Fatalf("not idempotent: %v vs %v", once, twice)
		}

		seen := map[Link]bool{}
		for _, l := range once {
			if seen[l] {
				t.Fatalf("duplicate link %v", l)
			}
			seen[l] = true
		}
		for _, l := range links {
			if !seen[l] {
				t.Fatalf("link %v lost", l)
			}
		}

		// 最初の出現順を保つ
		if len(links) > 0 && once[0] != links[0] {
			t.Fatalf("first link changed: %v vs %v", once[0], links[0])
		}
	})
}
