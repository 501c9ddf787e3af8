// Package ingestion decodes raw feed payloads and appends accepted trades to
// the trade log.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradewatch/internal/decoder"
	"tradewatch/internal/domain"
	"tradewatch/internal/observability"
	"tradewatch/internal/storage"
)

// ErrRetriesExhausted wraps the last I/O error of an append that was given up.
var ErrRetriesExhausted = errors.New("append retries exhausted")

// Ingestor is the single consumer of a payload source.
// Appends go straight to the log and never share a lock with queries.
type Ingestor struct {
	log            storage.Appender
	logger         *logrus.Entry
	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time

	rejectLimiter *rate.Limiter
	suppressed    atomic.Uint64

	received     atomic.Uint64
	accepted     atomic.Uint64
	appendFailed atomic.Uint64
	rejected     map[decoder.Reason]*atomic.Uint64
}

// Options contains configuration for creating an Ingestor.
type Options struct {
	Log            storage.Appender
	MaxRetries     uint64        // Default: 5 retries after the first attempt
	InitialBackoff time.Duration // Default: 100ms
	MaxBackoff     time.Duration // Default: 5s
	RejectLogEvery time.Duration // Default: 1s between rejection warnings
	Logger         *logrus.Logger
	Now            func() time.Time
}

// Stats is a snapshot of ingestion counters.
type Stats struct {
	Received     uint64
	Accepted     uint64
	AppendFailed uint64
	Rejected     map[decoder.Reason]uint64
}

// RejectedTotal sums rejections over all reasons.
func (s Stats) RejectedTotal() uint64 {
	var n uint64
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// New creates a new Ingestor.
func New(opts Options) *Ingestor {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	initialBackoff := opts.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = 100 * time.Millisecond
	}

	maxBackoff := opts.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 5 * time.Second
	}

	rejectEvery := opts.RejectLogEvery
	if rejectEvery == 0 {
		rejectEvery = time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	rejected := make(map[decoder.Reason]*atomic.Uint64, len(decoder.Reasons))
	for _, r := range decoder.Reasons {
		rejected[r] = new(atomic.Uint64)
	}

	return &Ingestor{
		log:            opts.Log,
		logger:         logger.WithField("component", "ingestion"),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		now:            now,
		rejectLimiter:  rate.NewLimiter(rate.Every(rejectEvery), 5),
		rejected:       rejected,
	}
}

// Run subscribes to src and handles payloads until ctx is cancelled or the
// source closes its channel. A closed source is a normal end and returns nil.
func (i *Ingestor) Run(ctx context.Context, src Source) error {
	payloads, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}
	i.logger.Info("ingestion started")

	for {
		select {
		case <-ctx.Done():
			i.logger.WithFields(i.statsFields()).Info("ingestion stopping")
			return ctx.Err()

		case payload, ok := <-payloads:
			if !ok {
				i.logger.WithFields(i.statsFields()).Info("source closed")
				return nil
			}
			_ = i.Handle(ctx, payload)
		}
	}
}

// Handle decodes one payload and appends it. Rejections and append failures
// are already counted and logged when returned; callers may ignore the error
// and continue with the next payload.
func (i *Ingestor) Handle(ctx context.Context, payload string) error {
	start := i.now()
	i.received.Add(1)
	observability.RecordPayloadReceived()

	event, err := decoder.Decode(payload, start)
	if err != nil {
		i.reject(err, payload)
		return err
	}

	if err := i.appendWithRetry(ctx, event); err != nil {
		return err
	}

	i.accepted.Add(1)
	observability.RecordTradeAccepted(i.now().Sub(start).Seconds(), start.Unix())
	return nil
}

func (i *Ingestor) reject(err error, payload string) {
	reason, ok := decoder.ReasonOf(err)
	if !ok {
		reason = decoder.ReasonMalformedData
	}
	if c, ok := i.rejected[reason]; ok {
		c.Add(1)
	}
	observability.RecordPayloadRejected(string(reason))

	// Non-trade frames are routine on a shared feed.
	if reason == decoder.ReasonWrongKind {
		i.logger.WithError(err).Debug("skipping non-trade payload")
		return
	}

	if !i.rejectLimiter.Allow() {
		i.suppressed.Add(1)
		return
	}
	entry := i.logger.WithError(err).WithFields(logrus.Fields{
		"reason":  reason,
		"payload": truncate(payload, 200),
	})
	if n := i.suppressed.Swap(0); n > 0 {
		entry = entry.WithField("suppressed", n)
	}
	entry.Warn("rejected payload")
}

// appendWithRetry retries I/O failures with bounded exponential backoff.
// Once retries are exhausted the trade is dropped and an operator-visible
// error is logged.
func (i *Ingestor) appendWithRetry(ctx context.Context, event domain.TradeEvent) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = i.initialBackoff
	exp.MaxInterval = i.maxBackoff
	exp.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		err := i.log.Append(ctx, event)
		if err == nil || storage.IsIOFailure(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		observability.RecordAppendRetry()
		i.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"wait":    wait,
		}).Warn("append failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, i.maxRetries), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	i.appendFailed.Add(1)
	observability.RecordAppendAbandoned()
	fields := logrus.Fields{
		"user":     event.Username,
		"coin":     event.CoinSymbol,
		"attempts": attempts,
	}
	if storage.IsIOFailure(err) {
		i.logger.WithError(err).WithFields(fields).Error("trade log persistently failing, dropping trade")
		return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
	}
	i.logger.WithError(err).WithFields(fields).Error("trade rejected by trade log")
	return err
}

func (i *Ingestor) statsFields() logrus.Fields {
	s := i.Stats()
	return logrus.Fields{
		"received":      s.Received,
		"accepted":      s.Accepted,
		"rejected":      s.RejectedTotal(),
		"append_failed": s.AppendFailed,
	}
}

// Stats returns a snapshot of the ingestion counters.
func (i *Ingestor) Stats() Stats {
	rejected := make(map[decoder.Reason]uint64, len(i.rejected))
	for r, c := range i.rejected {
		rejected[r] = c.Load()
	}
	return Stats{
		Received:     i.received.Load(),
		Accepted:     i.accepted.Load(),
		AppendFailed: i.appendFailed.Load(),
		Rejected:     rejected,
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
