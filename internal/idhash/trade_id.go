package idhash

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/mr-tron/base58"

	"tradewatch/internal/domain"
)

// ComputeEventID computes a deterministic event_id for a trade event.
// Formula: SHA256(username|coin_symbol|type|amount|total_value|timestamp)
// Returns the base58-encoded hash (43 or 44 characters).
//
// CapturedAt is not part of the key: the same broadcast captured twice maps
// to the same id, which lets database backends flag replays.
func ComputeEventID(e domain.TradeEvent) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		e.Username,
		e.CoinSymbol,
		string(e.Type),
		strconv.FormatFloat(e.Amount, 'g', -1, 64),
		strconv.FormatFloat(e.TotalValue, 'g', -1, 64),
		e.Timestamp,
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
