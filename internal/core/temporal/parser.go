package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// recencyWindow は「最新」系キーワードで遡る月数
const recencyWindow = 6

var (
	recencyPattern       = regexp.MustCompile(`(?i)latest|recent|last|newest`)
	relativeRangePattern = regexp.MustCompile(`(?i)in the last (\d+) (day|week|month|year)s?`)
	explicitRangePattern = regexp.MustCompile(`(?i)from (.+) to (.+)`)
	monthYearPattern     = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})\b`)
	yearPattern          = regexp.MustCompile(`\b(\d{4})\b`)
)

var monthNames = map[string]time.Month{
	"january":   time.January,
	"february":  time.February,
	"march":     time.March,
	"april":     time.April,
	"may":       time.May,
	"june":      time.June,
	"july":      time.July,
	"august":    time.August,
	"september": time.September,
	"october":   time.October,
	"november":  time.November,
	"december":  time.December,
}

// dateLayouts は "from X to Y" の X, Y として受け付ける書式
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"January 2006",
	"Jan 2006",
	"2006-01",
	"2006",
}

// ParseDateQuery は質問文から公開日の範囲フィルタを導出する。
// 判定は now とその Location のみに依存し、該当ルールがなければ nil を返す。
//
// ルールは以下の優先順位で評価され、最初に一致したものだけが適用される:
//  1. latest / recent / last / newest → 直近6ヶ月
//  2. "in the last N days|weeks|months|years" → 直近N単位
//  3. "from X to Y" → X〜Y（どちらかが日付として解釈できなければ次へ）
//  4. "<月名> <4桁の年>" → その月の初日〜末日 23:59:59
//  5. 4桁の年 → その年の 1/1 00:00:00〜12/31 23:59:59
//
// "in the last N ..." は必ず last を含むため、この順序ではルール2に到達しない。
// ルール2を優先したい場合は Parser に WithRelativeRangeFirst を指定する。
func ParseDateQuery(query string, now time.Time) *DateFilter {
	return parseDateQuery(query, now, false)
}

func parseDateQuery(query string, now time.Time, relativeFirst bool) *DateFilter {
	relative := relativeRangePattern.FindStringSubmatch(query)

	recencyTarget := query
	if relativeFirst && relative != nil {
		// 相対期間の "last" は最新キーワードとして数えない
		recencyTarget = relativeRangePattern.ReplaceAllString(query, " ")
	}
	if recencyPattern.MatchString(recencyTarget) {
		return &DateFilter{Gte: someUnix(now.AddDate(0, -recencyWindow, 0))}
	}

	if relative != nil {
		amount, err := strconv.Atoi(relative[1])
		if err == nil {
			return &DateFilter{Gte: someUnix(subtract(now, amount, strings.ToLower(relative[2])))}
		}
	}

	if m := explicitRangePattern.FindStringSubmatch(query); m != nil {
		start, okStart := parseDate(m[1], now.Location())
		end, okEnd := parseDate(m[2], now.Location())
		if okStart && okEnd {
			return &DateFilter{Gte: someUnix(start), Lte: someUnix(end)}
		}
	}

	if m := monthYearPattern.FindStringSubmatch(query); m != nil {
		month := monthNames[strings.ToLower(m[1])]
		year, err := strconv.Atoi(m[2])
		if err == nil {
			start := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
			// 翌月0日 = 当月末日
			end := time.Date(year, month+1, 0, 23, 59, 59, 0, now.Location())
			return &DateFilter{Gte: someUnix(start), Lte: someUnix(end)}
		}
	}

	if m := yearPattern.FindStringSubmatch(query); m != nil {
		year, err := strconv.Atoi(m[1])
		if err == nil {
			start := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
			end := time.Date(year, time.December, 31, 23, 59, 59, 0, now.Location())
			return &DateFilter{Gte: someUnix(start), Lte: someUnix(end)}
		}
	}

	return nil
}

// subtract は now から amount 単位分遡った時刻を返す
func subtract(now time.Time, amount int, unit string) time.Time {
	switch unit {
	case "day":
		return now.AddDate(0, 0, -amount)
	case "week":
		return now.AddDate(0, 0, -amount*7)
	case "month":
		return now.AddDate(0, -amount, 0)
	case "year":
		return now.AddDate(-amount, 0, 0)
	default:
		return now
	}
}

// parseDate は自由記述の日付文字列を解釈する。解釈できない場合は false を返す。
func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "?.,! ")
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
