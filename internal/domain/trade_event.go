package domain

import (
	"strings"
	"time"
)

// TradeType is the side of a captured trade.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// String returns the string representation of TradeType.
func (t TradeType) String() string {
	return string(t)
}

// IsValid checks if the trade type is BUY or SELL.
func (t TradeType) IsValid() bool {
	return t == TradeTypeBuy || t == TradeTypeSell
}

// ParseTradeType coerces a feed value ("buy", "SELL", " Buy ") into a TradeType.
func ParseTradeType(s string) (TradeType, bool) {
	t := TradeType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", false
	}
	return t, true
}

// TradeEvent is one BUY or SELL broadcast by the live trade feed.
// Values are immutable once built by the decoder; stores keep copies.
type TradeEvent struct {
	Username   string    // as captured, matched case-insensitively
	CoinSymbol string    // traded asset
	Type       TradeType // BUY | SELL
	Amount     float64   // asset units, >= 0
	TotalValue float64   // monetary value, >= 0
	Timestamp  int64     // source-provided event time (ms)
	CapturedAt time.Time // wall clock at ingestion, audit only

	// Optional passthrough fields from the feed. Never used for filter/sort/summary.
	CoinName  string
	CoinIcon  string
	Price     float64
	UserID    string
	UserImage string
}

// MatchesUser reports whether username contains filter, ignoring case.
// filter must already be lower-cased; an empty filter matches everything.
func (e *TradeEvent) MatchesUser(filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Username), filter)
}
