// Package refresh re-runs a viewer's query on a timer while the trade log
// keeps growing.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"tradewatch/internal/domain"
	"tradewatch/internal/observability"
	"tradewatch/internal/query"
	"tradewatch/internal/storage"
	"tradewatch/internal/viewer"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 5 * time.Second

// State is the scheduler lifecycle state.
type State int

const (
	Stopped State = iota
	Running
)

// String returns the string representation of State.
func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Scheduler periodically queries the log with the current session and
// delivers results to the current consumer.
//
// At most one query of a Running period runs at a time. A timer tick that
// finds one in flight is skipped; a Trigger is held and runs once the query in
// flight has delivered. Stop ends the timer chain; a query still running at
// that point completes but its result is discarded.
type Scheduler struct {
	engine   *query.Engine
	log      storage.Reader
	clock    clockwork.Clock
	interval time.Duration
	logger   *logrus.Entry

	mu       sync.Mutex
	state    State
	gen      uint64 // incremented on every Start
	session  domain.Session
	consumer viewer.Consumer
	busyGen  uint64 // generation with a query in flight, 0 when idle
	pending  bool   // a Trigger arrived while busyGen == gen
	cancel   context.CancelFunc
	trigger  chan struct{}
	loopDone chan struct{}

	// deliverMu is held while a result is checked and handed to the consumer,
	// so Stop can wait out a delivery in progress.
	deliverMu sync.Mutex
	queries   sync.WaitGroup
}

// Options contains configuration for creating a Scheduler.
type Options struct {
	Log      storage.Reader
	Engine   *query.Engine   // Default: engine with origin "refresh"
	Consumer viewer.Consumer // Default: viewer.Discard
	Session  domain.Session
	Interval time.Duration   // Default: 5s
	Clock    clockwork.Clock // Default: real clock
	Logger   *logrus.Logger
}

// New creates a stopped Scheduler.
func New(opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	engine := opts.Engine
	if engine == nil {
		engine = query.NewEngine(query.Options{Origin: "refresh", Logger: logger})
	}

	consumer := opts.Consumer
	if consumer == nil {
		consumer = viewer.Discard
	}

	return &Scheduler{
		engine:   engine,
		log:      opts.Log,
		clock:    clock,
		interval: interval,
		logger:   logger.WithField("component", "refresh"),
		session:  opts.Session,
		consumer: consumer,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the scheduler is Running.
func (s *Scheduler) Running() bool {
	return s.State() == Running
}

// Interval returns the refresh period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start moves Stopped to Running: it queries immediately and then every
// interval. Start while Running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.state = Running
	s.gen++
	s.pending = false
	s.cancel = cancel
	s.trigger = make(chan struct{}, 1)
	s.loopDone = make(chan struct{})

	ticker := s.clock.NewTicker(s.interval)
	go s.loop(ctx, s.gen, ticker, s.trigger, s.loopDone)

	s.logger.WithField("interval", s.interval).Info("auto refresh on")
}

// Stop moves Running to Stopped and cancels pending and future ticks.
// When Stop returns no further result of this Running period is delivered.
// Stop while Stopped is a no-op. Stop must not be called synchronously from
// Consumer.OnQueryResult.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	s.pending = false
	cancel, loopDone := s.cancel, s.loopDone
	s.cancel, s.trigger, s.loopDone = nil, nil, nil
	s.mu.Unlock()

	cancel()
	<-loopDone

	// Wait out a delivery that passed its check before Stop.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()

	s.logger.Info("auto refresh off")
}

// Wait blocks until every query started by the scheduler has finished.
func (s *Scheduler) Wait() {
	s.queries.Wait()
}

// Update replaces the filter and sort used by future ticks.
func (s *Scheduler) Update(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// Session returns the session used by the next tick.
func (s *Scheduler) Session() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetConsumer replaces the destination of future deliveries.
func (s *Scheduler) SetConsumer(c viewer.Consumer) {
	if c == nil {
		c = viewer.Discard
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = c
}

// Trigger requests an immediate refresh. It is ignored while Stopped and
// coalesced with other pending triggers. A Trigger that arrives while a query
// is in flight runs right after that query, with the session current then.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// loop is the timer chain of one Running period.
func (s *Scheduler) loop(ctx context.Context, gen uint64, ticker clockwork.Ticker, trigger <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	s.tick(gen, false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(gen, false)
		case <-trigger:
			s.tick(gen, true)
		}
	}
}

// tick starts a query unless one of this generation is already in flight.
// A requested tick is then deferred instead of dropped.
func (s *Scheduler) tick(gen uint64, requested bool) {
	s.mu.Lock()
	if s.busyGen == gen {
		if requested {
			s.pending = true
		}
		s.mu.Unlock()
		if requested {
			s.logger.Debug("deferring refresh until running query finishes")
			return
		}
		observability.RecordRefreshTick("skipped")
		s.logger.Debug("skipping tick, previous query still running")
		return
	}
	s.launchLocked(gen)
	s.mu.Unlock()
}

// launchLocked marks gen busy and starts its query. s.mu must be held.
func (s *Scheduler) launchLocked(gen uint64) {
	s.busyGen = gen
	sess := s.session
	s.queries.Add(1)
	go s.run(gen, sess)
}

// run executes one query. It is not bound to the loop's context, so Stop
// lets it finish; the generation check then discards the result.
func (s *Scheduler) run(gen uint64, sess domain.Session) {
	defer s.queries.Done()

	result, err := s.engine.Query(context.Background(), s.log, sess)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.busyGen == gen {
		s.busyGen = 0
	}
	current := s.state == Running && s.gen == gen
	consumer := s.consumer
	if current && s.pending {
		// The follow-up blocks on deliverMu, so it delivers after this result.
		s.pending = false
		s.launchLocked(gen)
	}
	s.mu.Unlock()

	if err != nil {
		observability.RecordRefreshTick("error")
		s.logger.WithError(err).Warn("refresh query failed")
		return
	}
	if !current {
		observability.RecordRefreshDiscarded()
		s.logger.Debug("discarding result of stopped refresh")
		return
	}

	observability.RecordRefreshTick("ran")
	consumer.OnQueryResult(result)
}
