package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradewatch/internal/domain"
	"tradewatch/internal/idhash"
	"tradewatch/internal/observability"
	"tradewatch/internal/storage"
)

// TradeLog implements storage.TradeLog using a ClickHouse MergeTree table.
// ClickHouse has no sequences, so seq is assigned here from a counter seeded
// with max(seq) at open. Only one writer process per table is supported.
type TradeLog struct {
	conn *Conn

	mu     sync.Mutex // serializes seq assignment and insert
	seq    uint64
	closed bool
}

// Compile-time interface check.
var _ storage.TradeLog = (*TradeLog)(nil)

// OpenTradeLog creates a TradeLog and seeds the sequence from existing rows.
func OpenTradeLog(ctx context.Context, conn *Conn) (*TradeLog, error) {
	var maxSeq uint64
	if err := conn.QueryRow(ctx, `SELECT max(seq) FROM trade_events`).Scan(&maxSeq); err != nil {
		return nil, classify("seed trade event seq", err)
	}
	return &TradeLog{conn: conn, seq: maxSeq}, nil
}

// Append inserts one event with the next seq.
func (l *TradeLog) Append(ctx context.Context, e domain.TradeEvent) (err error) {
	if err := storage.Validate(e); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		observability.RecordLogAppend(backendName, time.Since(start).Seconds(), err)
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}

	captured := e.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}

	batch, err := l.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events (
			seq, event_id, username, coin_symbol, trade_type,
			amount, total_value, source_ts, captured_at,
			coin_name, coin_icon, price, user_id, user_image
		)
	`)
	if err != nil {
		return classify("prepare batch", err)
	}

	next := l.seq + 1
	err = batch.Append(
		next, idhash.ComputeEventID(e), e.Username, e.CoinSymbol, string(e.Type),
		e.Amount, e.TotalValue, e.Timestamp, captured,
		e.CoinName, e.CoinIcon, e.Price, e.UserID, e.UserImage,
	)
	if err != nil {
		_ = batch.Abort()
		return fmt.Errorf("%w: append to batch: %v", storage.ErrInvalidInput, err)
	}

	if err := batch.Send(); err != nil {
		return classify("send batch", err)
	}
	l.seq = next
	return nil
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

	rows, err := l.conn.Query(ctx, query)
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
	var n uint64
	if err := l.conn.QueryRow(ctx, `SELECT count() FROM trade_events`).Scan(&n); err != nil {
		return 0, classify("count trade events", err)
	}
	return int(n), nil
}

// Close marks the log closed. The connection is left to its owner.
func (l *TradeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
