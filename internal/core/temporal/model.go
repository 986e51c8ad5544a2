package temporal

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// DateFilter は公開日 (Unix秒) に対する包含的な範囲条件を表す。
// 未設定の境界はその方向に無制限であることを意味する。
type DateFilter struct {
	Gte mo.Option[int64] `json:"gte"`
	Lte mo.Option[int64] `json:"lte"`
}

// IsZero は両端とも未設定かどうかを返す
func (f *DateFilter) IsZero() bool {
	return f == nil || (f.Gte.IsAbsent() && f.Lte.IsAbsent())
}

// Contains は ts が範囲内に含まれるかを返す
func (f *DateFilter) Contains(ts int64) bool {
	if f == nil {
		return true
	}
	if gte, ok := f.Gte.Get(); ok && ts < gte {
		return false
	}
	if lte, ok := f.Lte.Get(); ok && ts > lte {
		return false
	}
	return true
}

// String はログ出力用の表現を返す
func (f *DateFilter) String() string {
	if f.IsZero() {
		return "unbounded"
	}
	parts := make([]string, 0, 2)
	if gte, ok := f.Gte.Get(); ok {
		parts = append(parts, fmt.Sprintf("gte=%s", time.Unix(gte, 0).UTC().Format(time.RFC3339)))
	}
	if lte, ok := f.Lte.Get(); ok {
		parts = append(parts, fmt.Sprintf("lte=%s", time.Unix(lte, 0).UTC().Format(time.RFC3339)))
	}
	return strings.Join(parts, " ")
}

func someUnix(t time.Time) mo.Option[int64] {
	return mo.Some(t.Unix())
}
