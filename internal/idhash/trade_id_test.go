package idhash

import (
	"testing"
	"time"

	"tradewatch/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	tests := []struct {
		name  string
		event domain.TradeEvent
	}{
		{
			name:  "buy",
			event: domain.TradeEvent{Username: "alice", CoinSymbol: "FOO", Type: domain.TradeTypeBuy, Amount: 10, TotalValue: 100, Timestamp: 1},
		},
		{
			name:  "sell with fractions",
			event: domain.TradeEvent{Username: "bob", CoinSymbol: "BAR", Type: domain.TradeTypeSell, Amount: 0.5, TotalValue: 12.345, Timestamp: 1717245045000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEventID(tt.event)

			// base58 of 32 bytes is 43 or 44 characters
			if len(got) < 43 || len(got) > 44 {
				t.Errorf("ComputeEventID() length = %d, want 43..44", len(got))
			}

			got2 := ComputeEventID(tt.event)
			if got != got2 {
				t.Errorf("ComputeEventID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeEventID_IgnoresCaptureTime(t *testing.T) {
	a := domain.TradeEvent{Username: "alice", CoinSymbol: "FOO", Type: domain.TradeTypeBuy, Amount: 1, Timestamp: 5, CapturedAt: time.Unix(100, 0)}
	b := a
	b.CapturedAt = time.Unix(200, 0)

	if ComputeEventID(a) != ComputeEventID(b) {
		t.Error("capture time must not change the event id")
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	base := domain.TradeEvent{Username: "alice", CoinSymbol: "FOO", Type: domain.TradeTypeBuy, Amount: 1, TotalValue: 2, Timestamp: 3}

	variants := []domain.TradeEvent{base, base, base, base, base, base}
	variants[0].Username = "alicE"
	variants[1].CoinSymbol = "FOO2"
	variants[2].Type = domain.TradeTypeSell
	variants[3].Amount = 1.0000001
	variants[4].TotalValue = 3
	variants[5].Timestamp = 4

	id := ComputeEventID(base)
	for i, v := range variants {
		if ComputeEventID(v) == id {
			t.Errorf("variant %d collides with base id", i)
		}
	}
}
