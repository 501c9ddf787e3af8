package query

import (
	"github.com/shopspring/decimal"

	"tradewatch/internal/domain"
)

// counter tallies occurrences and remembers first-seen order, so ties go to
// whichever key appeared first in the input.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

// leader returns the key with the highest count; the earliest key wins ties.
func (c *counter) leader() domain.Leader {
	var best domain.Leader
	for _, k := range c.order {
		if n := c.counts[k]; n > best.Count {
			best = domain.Leader{Name: k, Count: n}
		}
	}
	return best
}

// valueTotals sums TotalValue per key in decimal to avoid float drift.
type valueTotals struct {
	totals map[string]decimal.Decimal
	order  []string
}

func newValueTotals() *valueTotals {
	return &valueTotals{totals: make(map[string]decimal.Decimal)}
}

func (v *valueTotals) add(key string, value float64) {
	cur, ok := v.totals[key]
	if !ok {
		v.order = append(v.order, key)
	}
	v.totals[key] = cur.Add(decimal.NewFromFloat(value))
}

func (v *valueTotals) leader() domain.ValueLeader {
	var (
		bestName  string
		bestTotal decimal.Decimal
		found     bool
	)
	for _, k := range v.order {
		t := v.totals[k]
		if !found || t.GreaterThan(bestTotal) {
			bestName, bestTotal, found = k, t, true
		}
	}
	total, _ := bestTotal.Float64()
	return domain.ValueLeader{Name: bestName, Total: total}
}

// Summarize computes the summary of trades, which must be in append order
// for the first-appearance tie-break to be meaningful.
func Summarize(trades []domain.TradeEvent) domain.Summary {
	if len(trades) == 0 {
		return domain.Summary{Empty: true}
	}

	users := newCounter()
	coins := newCounter()
	values := newValueTotals()
	perCoin := make(map[string]*counter)
	total := decimal.Zero

	var s domain.Summary
	for i := range trades {
		e := &trades[i]
		users.add(e.Username)
		coins.add(e.CoinSymbol)
		values.add(e.Username, e.TotalValue)
		total = total.Add(decimal.NewFromFloat(e.TotalValue))

		pc, ok := perCoin[e.CoinSymbol]
		if !ok {
			pc = newCounter()
			perCoin[e.CoinSymbol] = pc
		}
		pc.add(e.Username)

		switch e.Type {
		case domain.TradeTypeBuy:
			s.BuyCount++
		case domain.TradeTypeSell:
			s.SellCount++
		}
	}

	s.TradeCount = len(trades)
	s.MostActiveTrader = users.leader()
	s.HighestValueTrader = values.leader()
	s.MostTradedAsset = coins.leader()
	s.TopTraderForAsset = perCoin[s.MostTradedAsset.Name].leader()
	s.TotalValue, _ = total.Float64()
	return s
}
