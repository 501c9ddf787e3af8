package storage

import (
	"context"
	"fmt"

	"tradewatch/internal/domain"
)

// Appender persists trade events.
type Appender interface {
	// Append durably persists one event before returning.
	// Concurrent appends never interleave within a record.
	// Returns ErrLogUnavailable or ErrLogWriteFailed on medium failure.
	Append(ctx context.Context, e domain.TradeEvent) error
}

// Reader scans trade events.
type Reader interface {
	// ReadAll returns every fully written, decodable event in append order.
	// A read started after an Append returned observes that event.
	// Records that cannot be decoded are skipped, not fatal.
	ReadAll(ctx context.Context) ([]domain.TradeEvent, error)
}

// TradeLog is the append-only store of accepted trade events.
// It grows only by Append; nothing in this module rewrites or truncates it.
type TradeLog interface {
	Appender
	Reader

	// Count returns the number of events currently readable.
	Count(ctx context.Context) (int, error)

	// Close releases the medium. Further calls return ErrClosed.
	Close() error
}

// Validate checks the invariants every persisted event must satisfy.
func Validate(e domain.TradeEvent) error {
	if e.Username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidInput)
	}
	if e.CoinSymbol == "" {
		return fmt.Errorf("%w: empty coin symbol", ErrInvalidInput)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: trade type %q", ErrInvalidInput, e.Type)
	}
	if e.Amount < 0 || e.TotalValue < 0 {
		return fmt.Errorf("%w: negative amount or total value", ErrInvalidInput)
	}
	return nil
}
