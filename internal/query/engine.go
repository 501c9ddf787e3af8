// Package query filters, sorts and summarizes the trade log for viewers.
//
// Queries are stateless: every call reads the log, works on its own copy and
// hands back a fresh result. Nothing here takes a lock shared with appends.
package query

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"tradewatch/internal/domain"
	"tradewatch/internal/observability"
	"tradewatch/internal/storage"
)

// Engine runs queries against a trade log reader.
type Engine struct {
	origin string
	logger *logrus.Entry
}

// Options contains configuration for creating an Engine.
type Options struct {
	// Origin labels query metrics ("viewer", "refresh", "http").
	Origin string
	Logger *logrus.Logger
}

// NewEngine creates a new query engine.
func NewEngine(opts Options) *Engine {
	origin := opts.Origin
	if origin == "" {
		origin = "viewer"
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Engine{
		origin: origin,
		logger: logger.WithFields(logrus.Fields{"component": "query", "origin": origin}),
	}
}

// Query reads the whole log and runs sess against it.
// Only a failed read is an error; no matches yields an empty result.
func (e *Engine) Query(ctx context.Context, log storage.Reader, sess domain.Session) (domain.QueryResult, error) {
	start := time.Now()

	events, err := log.ReadAll(ctx)
	if err != nil {
		observability.RecordQuery(e.origin, "error", time.Since(start).Seconds(), 0)
		e.logger.WithError(err).Warn("trade log read failed")
		return domain.QueryResult{Query: sess}, err
	}

	result := Run(events, sess)
	observability.RecordQuery(e.origin, "ok", time.Since(start).Seconds(), len(result.Trades))
	e.logger.WithFields(logrus.Fields{
		"filter":  sess.Filter,
		"sort":    result.Query.Sort,
		"scanned": len(events),
		"matched": len(result.Trades),
	}).Debug("query complete")
	return result, nil
}

// Run filters events by username, summarizes the matches in append order and
// returns them sorted by sess.Sort. An unknown sort mode falls back to
// domain.DefaultSortMode. events is not modified.
func Run(events []domain.TradeEvent, sess domain.Session) domain.QueryResult {
	if !sess.Sort.IsValid() {
		sess.Sort = domain.DefaultSortMode
	}

	trades := matching(events, sess.NormalizedFilter())
	summary := Summarize(trades)
	sortTrades(trades, sess.Sort)

	return domain.QueryResult{
		Query:   sess,
		Trades:  trades,
		Summary: summary,
	}
}

// Filter returns a new slice with the events whose username contains filter,
// case-insensitively. An empty or blank filter matches everything.
func Filter(events []domain.TradeEvent, filter string) []domain.TradeEvent {
	return matching(events, domain.Session{Filter: filter}.NormalizedFilter())
}

// matching keeps the events whose username contains needle. needle must be
// normalized already.
func matching(events []domain.TradeEvent, needle string) []domain.TradeEvent {
	out := make([]domain.TradeEvent, 0, len(events))
	for i := range events {
		if events[i].MatchesUser(needle) {
			out = append(out, events[i])
		}
	}
	return out
}
