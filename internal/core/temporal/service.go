package temporal

import "time"

// Parser は時計とタイムゾーンを保持して ParseDateQuery を呼び出す
type Parser struct {
	now           func() time.Time
	location      *time.Location
	relativeFirst bool
}

// ParserOption は Parser のオプション設定
type ParserOption func(*Parser)

// WithClock は現在時刻の取得関数を差し替える
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) {
		p.now = now
	}
}

// WithLocation は暦の解釈に使うタイムゾーンを指定する
func WithLocation(loc *time.Location) ParserOption {
	return func(p *Parser) {
		p.location = loc
	}
}

// WithRelativeRangeFirst は "in the last N ..." を最新キーワードより優先して解釈する
func WithRelativeRangeFirst(enabled bool) ParserOption {
	return func(p *Parser) {
		p.relativeFirst = enabled
	}
}

// NewParser は新しい Parser を作成する
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		now:      time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.location == nil {
		p.location = time.Local
	}
	return p
}

// Parse は質問文から DateFilter を導出する。該当しなければ nil を返す。
func (p *Parser) Parse(query string) *DateFilter {
	return parseDateQuery(query, p.now().In(p.location), p.relativeFirst)
}
