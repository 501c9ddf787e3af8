package decoder

import (
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"tradewatch/internal/domain"
)

// CaptureLayout is the layout of the "[...]" capture tag on persisted lines.
const CaptureLayout = "2006-01-02 15:04:05.000000"

// wireEnvelope and wireTrade mirror the feed's broadcast shape.
type wireEnvelope struct {
	Type string    `json:"type"`
	Data wireTrade `json:"data"`
}

type wireTrade struct {
	Username   string  `json:"username"`
	CoinSymbol string  `json:"coinSymbol"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	TotalValue float64 `json:"totalValue"`
	Timestamp  int64   `json:"timestamp"`
	CoinName   string  `json:"coinName,omitempty"`
	CoinIcon   string  `json:"coinIcon,omitempty"`
	Price      float64 `json:"price,omitempty"`
	UserID     string  `json:"userId,omitempty"`
	UserImage  string  `json:"userImage,omitempty"`
}

// Marshal serializes an event back into the feed's broadcast object.
func Marshal(e domain.TradeEvent) ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Type: TradeKind,
		Data: wireTrade{
			Username:   e.Username,
			CoinSymbol: e.CoinSymbol,
			Type:       string(e.Type),
			Amount:     e.Amount,
			TotalValue: e.TotalValue,
			Timestamp:  e.Timestamp,
			CoinName:   e.CoinName,
			CoinIcon:   e.CoinIcon,
			Price:      e.Price,
			UserID:     e.UserID,
			UserImage:  e.UserImage,
		},
	})
}

// EncodeLine renders the persisted log record for e, newline terminated:
//
//	[2025-01-02 15:04:05.000000] {"type":"all-trades","data":{...}}
func EncodeLine(e domain.TradeEvent) ([]byte, error) {
	body, err := Marshal(e)
	if err != nil {
		return nil, err
	}
	captured := e.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	line := make([]byte, 0, len(body)+len(CaptureLayout)+4)
	line = append(line, '[')
	line = captured.AppendFormat(line, CaptureLayout)
	line = append(line, ']', ' ')
	line = append(line, body...)
	return append(line, '\n'), nil
}

// DecodeLine parses one persisted log line. CapturedAt comes from the
// "[...]" tag when present and parseable, otherwise it is left zero.
func DecodeLine(line string) (domain.TradeEvent, error) {
	return Decode(line, captureTime(line))
}

func captureTime(line string) time.Time {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "[") {
		return time.Time{}
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return time.Time{}
	}
	t, err := time.ParseInLocation(CaptureLayout, s[1:end], time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}
