package memory

import (
	"context"
	"sync"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage"
)

// TradeLog is an in-memory implementation of storage.TradeLog.
type TradeLog struct {
	mu     sync.RWMutex
	data   []domain.TradeEvent
	closed bool
}

// NewTradeLog creates a new in-memory trade log.
func NewTradeLog() *TradeLog {
	return &TradeLog{
		data: make([]domain.TradeEvent, 0),
	}
}

// Append adds an event at the end of the log.
func (l *TradeLog) Append(_ context.Context, e domain.TradeEvent) error {
	if err := storage.Validate(e); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}

	// TradeEvent has no reference fields, so the value is already a copy.
	l.data = append(l.data, e)
	return nil
}

// ReadAll returns a copy of every event in append order.
func (l *TradeLog) ReadAll(_ context.Context) ([]domain.TradeEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, storage.ErrClosed
	}

	result := make([]domain.TradeEvent, len(l.data))
	copy(result, l.data)
	return result, nil
}

// Count returns the number of stored events.
func (l *TradeLog) Count(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return 0, storage.ErrClosed
	}
	return len(l.data), nil
}

// Close marks the log closed.
func (l *TradeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Verify interface compliance at compile time.
var _ storage.TradeLog = (*TradeLog)(nil)
