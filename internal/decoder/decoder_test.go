package decoder

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/domain"
)

var captured = time.Date(2025, 6, 1, 12, 30, 45, 123456000, time.Local)

func TestDecode_PlainPayload(t *testing.T) {
	raw := `{"type":"all-trades","data":{"username":"Alice","coinSymbol":"FOO","type":"BUY","amount":10,"totalValue":100.5,"timestamp":1717245045000}}`

	e, err := Decode(raw, captured)
	require.NoError(t, err)

	assert.Equal(t, "Alice", e.Username)
	assert.Equal(t, "FOO", e.CoinSymbol)
	assert.Equal(t, domain.TradeTypeBuy, e.Type)
	assert.Equal(t, 10.0, e.Amount)
	assert.Equal(t, 100.5, e.TotalValue)
	assert.Equal(t, int64(1717245045000), e.Timestamp)
	assert.Equal(t, captured, e.CapturedAt)
}

func TestDecode_PrefixedPayload(t *testing.T) {
	raw := `[2025-06-01 12:30:45.123456] {"type":"all-trades","data":{"username":"bob","coinSymbol":"BAR","type":"sell","amount":"2.5","totalValue":"7","timestamp":3}}`

	e, err := Decode(raw, captured)
	require.NoError(t, err)

	assert.Equal(t, "bob", e.Username)
	assert.Equal(t, domain.TradeTypeSell, e.Type)
	assert.Equal(t, 2.5, e.Amount)
	assert.Equal(t, 7.0, e.TotalValue)
	assert.Equal(t, int64(3), e.Timestamp)
}

func TestDecode_NestedBracesInPrefix(t *testing.T) {
	// A brace inside the prefix must not hide the trailing object.
	raw := `tag {broken [x] {"type":"all-trades","data":{"username":"carol","coinSymbol":"Z","type":"BUY"}}`

	e, err := Decode(raw, captured)
	require.NoError(t, err)
	assert.Equal(t, "carol", e.Username)
}

func TestDecode_MissingNumericFieldsDefaultToZero(t *testing.T) {
	raw := `{"type":"all-trades","data":{"username":"dave","coinSymbol":"Q","type":"BUY"}}`

	e, err := Decode(raw, captured)
	require.NoError(t, err)

	assert.Zero(t, e.Amount)
	assert.Zero(t, e.TotalValue)
	assert.Zero(t, e.Timestamp)
	assert.Zero(t, e.Price)
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason Reason
		target error
	}{
		{"empty", "   ", ReasonNoStructuredData, ErrNoStructuredData},
		{"plain text", "hello world", ReasonNoStructuredData, ErrNoStructuredData},
		{"closing brace only", "oops }", ReasonNoStructuredData, ErrNoStructuredData},
		{"broken json", `[ts] {"type":"all-trades","data":{` + "\"username\":}", ReasonMalformedData, ErrMalformedData},
		{"wrong kind", `{"type":"price-update","data":{"coinSymbol":"FOO"}}`, ReasonWrongKind, ErrWrongKind},
		{"no kind", `{"data":{"username":"a","coinSymbol":"b","type":"BUY"}}`, ReasonWrongKind, ErrWrongKind},
		{"ping", `{"type":"ping"}`, ReasonWrongKind, ErrWrongKind},
		{"missing data", `{"type":"all-trades"}`, ReasonMalformedData, ErrMalformedData},
		{"data not object", `{"type":"all-trades","data":[1,2]}`, ReasonMalformedData, ErrMalformedData},
		{"missing trade type", `{"type":"all-trades","data":{"username":"a","coinSymbol":"b"}}`, ReasonWrongKind, ErrWrongKind},
		{"unknown trade type", `{"type":"all-trades","data":{"username":"a","coinSymbol":"b","type":"HOLD"}}`, ReasonMalformedData, ErrMalformedData},
		{"missing username", `{"type":"all-trades","data":{"coinSymbol":"b","type":"BUY"}}`, ReasonMalformedData, ErrMalformedData},
		{"empty coin", `{"type":"all-trades","data":{"username":"a","coinSymbol":"","type":"BUY"}}`, ReasonMalformedData, ErrMalformedData},
		{"negative amount", `{"type":"all-trades","data":{"username":"a","coinSymbol":"b","type":"BUY","amount":-1}}`, ReasonMalformedData, ErrMalformedData},
		{"non numeric value", `{"type":"all-trades","data":{"username":"a","coinSymbol":"b","type":"BUY","totalValue":"lots"}}`, ReasonMalformedData, ErrMalformedData},
		{"timestamp above int64", `{"type":"all-trades","data":{"username":"a","coinSymbol":"b","type":"BUY","timestamp":1e30}}`, ReasonMalformedData, ErrMalformedData},
		{"timestamp at 2^63", `{"type":"all-trades","data":{"username":"a","coinSymbol":"b","type":"BUY","timestamp":9.223372036854775808e18}}`, ReasonMalformedData, ErrMalformedData},
		{"timestamp below int64", `{"type":"all-trades","data":{"username":"a","coinSymbol":"b","type":"BUY","timestamp":-1e19}}`, ReasonMalformedData, ErrMalformedData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw, captured)
			require.Error(t, err)

			reason, ok := ReasonOf(err)
			require.True(t, ok, "expected *DecodeError, got %T", err)
			assert.Equal(t, tt.reason, reason)
			assert.True(t, errors.Is(err, tt.target), "errors.Is(%v, %v)", err, tt.target)
		})
	}
}

func TestDecode_NeverPanics(t *testing.T) {
	inputs := []string{
		"{", "}", "{}", "{{{{", "}}}}", "[]", "null", `"str"`, "{\"type\":", strings.Repeat("{", 100) + "}",
		`{"type":"all-trades","data":null}`, `{"type":"all-trades","data":{"type":null}}`,
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _ = Decode(in, captured) }, "input %q", in)
	}
}

func TestEncodeLine_RoundTrip(t *testing.T) {
	events := []domain.TradeEvent{
		{Username: "alice", CoinSymbol: "FOO", Type: domain.TradeTypeBuy, Amount: 10, TotalValue: 100, Timestamp: 1, CapturedAt: captured},
		{Username: "Bob", CoinSymbol: "BAR", Type: domain.TradeTypeSell, Amount: 0.000123, TotalValue: 98765.4321, Timestamp: 1717245045123, CapturedAt: captured},
		{Username: "x y", CoinSymbol: "\"Q\"", Type: domain.TradeTypeBuy, CoinName: "Quote", Price: 1.5, UserID: "42", CapturedAt: captured},
	}

	for _, want := range events {
		line, err := EncodeLine(want)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(string(line), "\n"))
		assert.Equal(t, 1, strings.Count(string(line), "\n"), "record must be a single line")

		got, err := DecodeLine(string(line))
		require.NoError(t, err)

		assert.Equal(t, want.Username, got.Username)
		assert.Equal(t, want.CoinSymbol, got.CoinSymbol)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Amount, got.Amount)
		assert.Equal(t, want.TotalValue, got.TotalValue)
		assert.Equal(t, want.Timestamp, got.Timestamp)
		assert.Equal(t, want.CoinName, got.CoinName)
		assert.Equal(t, want.UserID, got.UserID)
		assert.True(t, want.CapturedAt.Equal(got.CapturedAt), "captured %v != %v", want.CapturedAt, got.CapturedAt)
	}
}

func TestDecodeLine_WithoutCaptureTag(t *testing.T) {
	e, err := DecodeLine(`{"type":"all-trades","data":{"username":"a","coinSymbol":"b","type":"BUY","userId":7}}`)
	require.NoError(t, err)
	assert.True(t, e.CapturedAt.IsZero())
	assert.Equal(t, "7", e.UserID)
}
