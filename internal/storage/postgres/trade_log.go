package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tradewatch/internal/domain"
	"tradewatch/internal/idhash"
	"tradewatch/internal/observability"
	"tradewatch/internal/storage"
)

// TradeLog implements storage.TradeLog using PostgreSQL.
// The BIGSERIAL seq column carries append order.
type TradeLog struct {
	pool   *Pool
	closed atomic.Bool
}

// NewTradeLog creates a new TradeLog. The pool stays owned by the caller.
func NewTradeLog(pool *Pool) *TradeLog {
	return &TradeLog{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLog = (*TradeLog)(nil)

// Append inserts one event. The row is committed before returning.
func (l *TradeLog) Append(ctx context.Context, e domain.TradeEvent) (err error) {
	if err := storage.Validate(e); err != nil {
		return err
	}
	if l.closed.Load() {
		return storage.ErrClosed
	}

	start := time.Now()
	defer func() {
		observability.RecordLogAppend(backendName, time.Since(start).Seconds(), err)
	}()

	query := `
		INSERT INTO trade_events (
			event_id, username, coin_symbol, trade_type,
			amount, total_value, source_ts, captured_at,
			coin_name, coin_icon, price, user_id, user_image
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)
	`

	captured := e.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}

	_, err = l.pool.Exec(ctx, query,
		idhash.ComputeEventID(e), e.Username, e.CoinSymbol, string(e.Type),
		e.Amount, e.TotalValue, e.Timestamp, captured,
		e.CoinName, e.CoinIcon, e.Price, e.UserID, e.UserImage,
	)
	return classify("insert trade event", err)
}

// ReadAll returns every event ordered by seq.
func (l *TradeLog) ReadAll(ctx context.Context) (events []domain.TradeEvent, err error) {
	start := time.Now()
	defer func() {
		observability.RecordLogRead(backendName, time.Since(start).Seconds(), 0, err)
	}()

	query := `
		SELECT username, coin_symbol, trade_type,
			amount, total_value, source_ts, captured_at,
			coin_name, coin_icon, price, user_id, user_image
		FROM trade_events
		ORDER BY seq ASC
	`

	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, classify("query trade events", err)
	}
	defer rows.Close()

	events = []domain.TradeEvent{}
	for rows.Next() {
		var (
			e         domain.TradeEvent
			tradeType string
		)
		if err := rows.Scan(
			&e.Username, &e.CoinSymbol, &tradeType,
			&e.Amount, &e.TotalValue, &e.Timestamp, &e.CapturedAt,
			&e.CoinName, &e.CoinIcon, &e.Price, &e.UserID, &e.UserImage,
		); err != nil {
			return nil, fmt.Errorf("%w: scan trade event: %v", storage.ErrLogUnavailable, err)
		}
		e.Type = domain.TradeType(tradeType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate trade events", err)
	}

	return events, nil
}

// Count returns the number of stored events.
func (l *TradeLog) Count(ctx context.Context) (int, error) {
	var n int64
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trade_events`).Scan(&n); err != nil {
		return 0, classify("count trade events", err)
	}
	return int(n), nil
}

// Close marks the log closed. The pool is left to its owner.
func (l *TradeLog) Close() error {
	l.closed.Store(true)
	return nil
}
