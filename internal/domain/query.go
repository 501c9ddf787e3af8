package domain

import (
	"strings"
)

// SortMode selects the ordering of query results.
type SortMode string

const (
	SortNewestFirst SortMode = "newest-first"
	SortOldestFirst SortMode = "oldest-first"
	SortMostValue   SortMode = "most-value"
	SortLeastValue  SortMode = "least-value"
	SortMostCoins   SortMode = "most-coins"
	SortLeastCoins  SortMode = "least-coins"
)

// DefaultSortMode is the viewer's initial ordering.
const DefaultSortMode = SortNewestFirst

// SortModes lists all sort modes in menu order.
var SortModes = []SortMode{
	SortNewestFirst,
	SortOldestFirst,
	SortMostValue,
	SortLeastValue,
	SortMostCoins,
	SortLeastCoins,
}

var sortLabels = map[SortMode]string{
	SortNewestFirst: "Newest First",
	SortOldestFirst: "Oldest First",
	SortMostValue:   "Most Value",
	SortLeastValue:  "Least Value",
	SortMostCoins:   "Most Coins",
	SortLeastCoins:  "Least Coins",
}

// String returns the string representation of SortMode.
func (m SortMode) String() string {
	return string(m)
}

// Label returns the human readable menu label ("Most Value").
func (m SortMode) Label() string {
	return sortLabels[m]
}

// IsValid checks if the sort mode is one of SortModes.
func (m SortMode) IsValid() bool {
	_, ok := sortLabels[m]
	return ok
}

// ParseSortMode accepts either the kebab form ("most-value") or the menu
// label ("Most Value"), case-insensitively. Empty input yields DefaultSortMode.
func ParseSortMode(s string) (SortMode, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSortMode, true
	}
	norm := strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), "-"))
	m := SortMode(norm)
	if m.IsValid() {
		return m, true
	}
	return "", false
}

// Session is the per-viewer query state: username filter and sort mode.
type Session struct {
	Filter string
	Sort   SortMode
}

// NormalizedFilter returns the trimmed, lower-cased filter used for matching.
func (s Session) NormalizedFilter() string {
	return strings.ToLower(strings.TrimSpace(s.Filter))
}

// Leader is the winner of a count-based summary statistic.
type Leader struct {
	Name  string
	Count int
}

// ValueLeader is the winner of the cumulative value statistic.
type ValueLeader struct {
	Name  string
	Total float64
}

// Summary holds aggregate statistics over a query's filtered trades.
// It is recomputed on every query and never persisted.
type Summary struct {
	// Empty marks the "no data" state: no trade matched the filter and
	// none of the leader fields are meaningful.
	Empty bool

	MostActiveTrader   Leader      // most trades
	HighestValueTrader ValueLeader // highest summed TotalValue
	MostTradedAsset    Leader      // coin with most trades
	TopTraderForAsset  Leader      // most trades restricted to MostTradedAsset

	TradeCount int
	BuyCount   int
	SellCount  int
	TotalValue float64
}

// QueryResult is the ordered, filtered trades plus their summary.
type QueryResult struct {
	Query   Session
	Trades  []TradeEvent
	Summary Summary
}
