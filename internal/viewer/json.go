package viewer

import (
	"io"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"

	"tradewatch/internal/domain"
)

// TradeView is the JSON shape of one trade.
type TradeView struct {
	Username   string    `json:"username"`
	CoinSymbol string    `json:"coinSymbol"`
	Type       string    `json:"type"`
	Amount     float64   `json:"amount"`
	TotalValue float64   `json:"totalValue"`
	Timestamp  int64     `json:"timestamp"`
	CapturedAt time.Time `json:"capturedAt"`
	CoinName   string    `json:"coinName,omitempty"`
	Price      float64   `json:"price,omitempty"`
}

// LeaderView is the JSON shape of a summary leader.
type LeaderView struct {
	Name  string  `json:"name"`
	Count int     `json:"count,omitempty"`
	Total float64 `json:"total,omitempty"`
}

// SummaryView is the JSON shape of a summary. Leaders are omitted when empty.
type SummaryView struct {
	Empty              bool        `json:"empty"`
	TradeCount         int         `json:"tradeCount"`
	BuyCount           int         `json:"buyCount"`
	SellCount          int         `json:"sellCount"`
	TotalValue         float64     `json:"totalValue"`
	MostActiveTrader   *LeaderView `json:"mostActiveTrader,omitempty"`
	HighestValueTrader *LeaderView `json:"highestValueTrader,omitempty"`
	MostTradedAsset    *LeaderView `json:"mostTradedAsset,omitempty"`
	TopTraderForAsset  *LeaderView `json:"topTraderForAsset,omitempty"`
}

// ResultView is the JSON document for a query result.
type ResultView struct {
	Filter  string      `json:"filter"`
	Sort    string      `json:"sort"`
	Count   int         `json:"count"`
	Trades  []TradeView `json:"trades"`
	Summary SummaryView `json:"summary"`
}

// NewResultView converts result into its JSON shape.
func NewResultView(result domain.QueryResult) ResultView {
	trades := make([]TradeView, len(result.Trades))
	for i, e := range result.Trades {
		trades[i] = TradeView{
			Username:   e.Username,
			CoinSymbol: e.CoinSymbol,
			Type:       string(e.Type),
			Amount:     e.Amount,
			TotalValue: e.TotalValue,
			Timestamp:  e.Timestamp,
			CapturedAt: e.CapturedAt,
			CoinName:   e.CoinName,
			Price:      e.Price,
		}
	}
	return ResultView{
		Filter:  result.Query.Filter,
		Sort:    result.Query.Sort.String(),
		Count:   len(trades),
		Trades:  trades,
		Summary: NewSummaryView(result.Summary),
	}
}

// NewSummaryView converts a summary into its JSON shape.
func NewSummaryView(s domain.Summary) SummaryView {
	v := SummaryView{
		Empty:      s.Empty,
		TradeCount: s.TradeCount,
		BuyCount:   s.BuyCount,
		SellCount:  s.SellCount,
		TotalValue: s.TotalValue,
	}
	if s.Empty {
		return v
	}
	v.MostActiveTrader = &LeaderView{Name: s.MostActiveTrader.Name, Count: s.MostActiveTrader.Count}
	v.HighestValueTrader = &LeaderView{Name: s.HighestValueTrader.Name, Total: s.HighestValueTrader.Total}
	v.MostTradedAsset = &LeaderView{Name: s.MostTradedAsset.Name, Count: s.MostTradedAsset.Count}
	v.TopTraderForAsset = &LeaderView{Name: s.TopTraderForAsset.Name, Count: s.TopTraderForAsset.Count}
	return v
}

// JSON writes each result as one JSON document per line.
type JSON struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSON creates a JSON renderer writing to w.
func NewJSON(w io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(w)}
}

// OnQueryResult encodes result. Write errors are ignored.
func (j *JSON) OnQueryResult(result domain.QueryResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(NewResultView(result))
}
