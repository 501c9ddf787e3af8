package query

import (
	"cmp"
	"sort"

	"tradewatch/internal/domain"
)

// compareFunc orders two trades ascending by one key.
type compareFunc func(a, b *domain.TradeEvent) int

type ordering struct {
	compare    compareFunc
	descending bool
}

var orderings = map[domain.SortMode]ordering{
	domain.SortNewestFirst: {compare: byTimestamp, descending: true},
	domain.SortOldestFirst: {compare: byTimestamp},
	domain.SortMostValue:   {compare: byValue, descending: true},
	domain.SortLeastValue:  {compare: byValue},
	domain.SortMostCoins:   {compare: byAmount, descending: true},
	domain.SortLeastCoins:  {compare: byAmount},
}

func byTimestamp(a, b *domain.TradeEvent) int { return cmp.Compare(a.Timestamp, b.Timestamp) }
func byValue(a, b *domain.TradeEvent) int     { return cmp.Compare(a.TotalValue, b.TotalValue) }
func byAmount(a, b *domain.TradeEvent) int    { return cmp.Compare(a.Amount, b.Amount) }

// sortTrades orders trades in place with a stable sort. Equal keys keep
// their relative order, which on input is append order, in both directions.
func sortTrades(trades []domain.TradeEvent, mode domain.SortMode) {
	o, ok := orderings[mode]
	if !ok {
		o = orderings[domain.DefaultSortMode]
	}

	sort.SliceStable(trades, func(i, j int) bool {
		c := o.compare(&trades[i], &trades[j])
		if o.descending {
			return c > 0
		}
		return c < 0
	})
}
