// Package decoder turns raw feed payloads and persisted log lines into
// validated trade events.
//
// A payload may carry an arbitrary prefix (the persisted log prepends a
// "[capture time] " tag) followed by a JSON object of the form
//
//	{"type":"all-trades","data":{"username":...,"coinSymbol":...,"type":"BUY",...}}
//
// Every failure is reported as a *DecodeError; nothing here panics on input.
package decoder

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"tradewatch/internal/domain"
)

// TradeKind is the message kind of trade broadcasts on the live feed.
const TradeKind = "all-trades"

// Decode parses one raw payload into a TradeEvent stamped with capturedAt.
func Decode(raw string, capturedAt time.Time) (domain.TradeEvent, error) {
	envelope, err := extractObject(raw)
	if err != nil {
		return domain.TradeEvent{}, err
	}
	return fromEnvelope(envelope, capturedAt)
}

// extractObject returns the top-level JSON object of the payload.
// It tries the whole payload first, then the largest trailing {...} substring.
func extractObject(raw string) (map[string]json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, &DecodeError{Reason: ReasonNoStructuredData, Detail: "empty payload"}
	}

	var obj map[string]json.RawMessage
	firstErr := json.Unmarshal([]byte(s), &obj)
	if firstErr == nil && obj != nil {
		return obj, nil
	}

	if !strings.HasSuffix(s, "}") {
		return nil, &DecodeError{Reason: ReasonNoStructuredData, Detail: "payload does not end with an object"}
	}

	// Scan opening braces left to right so the largest trailing object wins.
	found := false
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		found = true
		var candidate map[string]json.RawMessage
		if err := json.Unmarshal([]byte(s[i:]), &candidate); err == nil && candidate != nil {
			return candidate, nil
		}
	}

	if !found {
		return nil, &DecodeError{Reason: ReasonNoStructuredData, Detail: "no opening brace"}
	}
	return nil, &DecodeError{Reason: ReasonMalformedData, Detail: "trailing object", Err: firstErr}
}

// fromEnvelope validates the envelope kind and builds the event from data.
func fromEnvelope(envelope map[string]json.RawMessage, capturedAt time.Time) (domain.TradeEvent, error) {
	kind, ok := stringField(envelope, "type")
	if !ok || kind != TradeKind {
		return domain.TradeEvent{}, wrongKind("message type %q", kind)
	}

	rawData, present := envelope["data"]
	if !present || isNull(rawData) {
		return domain.TradeEvent{}, malformed("missing data object")
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(rawData, &data); err != nil || data == nil {
		return domain.TradeEvent{}, &DecodeError{Reason: ReasonMalformedData, Detail: "data is not an object", Err: err}
	}

	rawType, ok := stringField(data, "type")
	if !ok {
		return domain.TradeEvent{}, wrongKind("trade without type discriminant")
	}
	tradeType, ok := domain.ParseTradeType(rawType)
	if !ok {
		return domain.TradeEvent{}, malformed("unknown trade type %q", rawType)
	}

	username, _ := stringField(data, "username")
	if username == "" {
		return domain.TradeEvent{}, malformed("missing username")
	}
	coinSymbol, _ := stringField(data, "coinSymbol")
	if coinSymbol == "" {
		return domain.TradeEvent{}, malformed("missing coinSymbol")
	}

	amount, err := floatField(data, "amount")
	if err != nil {
		return domain.TradeEvent{}, err
	}
	totalValue, err := floatField(data, "totalValue")
	if err != nil {
		return domain.TradeEvent{}, err
	}
	if amount < 0 || totalValue < 0 {
		return domain.TradeEvent{}, malformed("negative amount %v or totalValue %v", amount, totalValue)
	}
	price, err := floatField(data, "price")
	if err != nil {
		return domain.TradeEvent{}, err
	}
	timestamp, err := intField(data, "timestamp")
	if err != nil {
		return domain.TradeEvent{}, err
	}

	coinName, _ := stringField(data, "coinName")
	coinIcon, _ := stringField(data, "coinIcon")
	userImage, _ := stringField(data, "userImage")

	return domain.TradeEvent{
		Username:   username,
		CoinSymbol: coinSymbol,
		Type:       tradeType,
		Amount:     amount,
		TotalValue: totalValue,
		Timestamp:  timestamp,
		CapturedAt: capturedAt,
		CoinName:   coinName,
		CoinIcon:   coinIcon,
		Price:      price,
		UserID:     idField(data, "userId"),
		UserImage:  userImage,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// stringField returns obj[key] as a string. Missing, null and non-string
// values report false.
func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// numericText returns the textual number stored at key, accepting both JSON
// numbers and numeric strings. Absent or null yields "".
func numericText(obj map[string]json.RawMessage, key string) (string, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	text := string(bytes.TrimSpace(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", &DecodeError{Reason: ReasonMalformedData, Detail: key, Err: err}
		}
		text = strings.TrimSpace(s)
	}
	return text, nil
}

// floatField parses a numeric field, defaulting to 0 when absent.
func floatField(obj map[string]json.RawMessage, key string) (float64, error) {
	text, err := numericText(obj, key)
	if err != nil || text == "" {
		return 0, err
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &DecodeError{Reason: ReasonMalformedData, Detail: key, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, malformed("%s is not finite", key)
	}
	return v, nil
}

// intField parses an integer field, defaulting to 0 when absent.
// Integral floats such as 1.7e12 are accepted.
func intField(obj map[string]json.RawMessage, key string) (int64, error) {
	text, err := numericText(obj, key)
	if err != nil || text == "" {
		return 0, err
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &DecodeError{Reason: ReasonMalformedData, Detail: key, Err: err}
	}
	// MaxInt64 rounds up to 2^63 as a float64.
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, malformed("%s out of int64 range", key)
	}
	return int64(f), nil
}

// idField renders an id that the feed sends either as a string or a number.
func idField(obj map[string]json.RawMessage, key string) string {
	if s, ok := stringField(obj, key); ok {
		return s
	}
	text, err := numericText(obj, key)
	if err != nil {
		return ""
	}
	return text
}
