package viewer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"tradewatch/internal/domain"
)

// Messages shown when a query has nothing to render.
const (
	NoTradesMessage  = "No matching trades found."
	NoSummaryMessage = "No trades to summarize."
)

// Text renders results as plain text, one trade per line followed by the
// four-line summary.
type Text struct {
	mu  sync.Mutex
	w   io.Writer
	max int
}

// NewText creates a text renderer writing to w. maxRows limits the number
// of trade rows printed; 0 prints all of them.
func NewText(w io.Writer, maxRows int) *Text {
	return &Text{w: w, max: maxRows}
}

// OnQueryResult writes one rendering of result. Write errors are ignored.
func (t *Text) OnQueryResult(result domain.QueryResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, Render(result, t.max))
}

// Render returns the text rendering of result.
func Render(result domain.QueryResult, maxRows int) string {
	var b strings.Builder

	if len(result.Trades) == 0 {
		b.WriteString(NoTradesMessage)
		b.WriteString("\n")
		b.WriteString(NoSummaryMessage)
		b.WriteString("\n")
		return b.String()
	}

	rows := result.Trades
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	for i := range rows {
		b.WriteString(FormatTrade(&rows[i]))
		b.WriteString("\n")
	}
	if hidden := len(result.Trades) - len(rows); hidden > 0 {
		fmt.Fprintf(&b, "... %d more\n", hidden)
	}

	b.WriteString("\n")
	b.WriteString(FormatSummary(result.Summary))
	return b.String()
}

// FormatTrade renders one row: "BUY $1,234.50 - 12.00 FOO by @alice".
func FormatTrade(e *domain.TradeEvent) string {
	return fmt.Sprintf("%4s $%s - %s %s by @%s",
		e.Type, Money(e.TotalValue), Money(e.Amount), e.CoinSymbol, e.Username)
}

// FormatSummary renders the four summary lines, or NoSummaryMessage.
func FormatSummary(s domain.Summary) string {
	if s.Empty {
		return NoSummaryMessage + "\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Most Trades: @%s (%d)\n", s.MostActiveTrader.Name, s.MostActiveTrader.Count)
	fmt.Fprintf(&b, "Highest Total Value: @%s ($%s)\n", s.HighestValueTrader.Name, Money(s.HighestValueTrader.Total))
	fmt.Fprintf(&b, "Most Traded Coin: %s (%d trades)\n", s.MostTradedAsset.Name, s.MostTradedAsset.Count)
	fmt.Fprintf(&b, "Top %s Trader: @%s (%d trades)\n", s.MostTradedAsset.Name, s.TopTraderForAsset.Name, s.TopTraderForAsset.Count)
	return b.String()
}

// Money formats v with two decimals and thousands separators: 1234.5 -> "1,234.50".
func Money(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
