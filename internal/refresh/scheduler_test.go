package refresh

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewatch/internal/domain"
	"tradewatch/internal/storage/memory"
	"tradewatch/internal/viewer"
)

const interval = 5 * time.Second

// countingReader counts scans and can hold them until released.
type countingReader struct {
	inner *memory.TradeLog
	reads atomic.Int32
	gate  chan struct{} // nil means never block
}

func (r *countingReader) ReadAll(ctx context.Context) ([]domain.TradeEvent, error) {
	r.reads.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	return r.inner.ReadAll(ctx)
}

func newReader(t *testing.T, gated bool) *countingReader {
	t.Helper()
	log := memory.NewTradeLog()
	require.NoError(t, log.Append(context.Background(), domain.TradeEvent{
		Username: "alice", CoinSymbol: "FOO", Type: domain.TradeTypeBuy, Amount: 1, TotalValue: 1,
	}))
	r := &countingReader{inner: log}
	if gated {
		r.gate = make(chan struct{})
	}
	return r
}

type harness struct {
	clock   *clockwork.FakeClock
	reader  *countingReader
	sched   *Scheduler
	results chan domain.QueryResult
	hook    *test.Hook
}

func newHarness(t *testing.T, gated bool) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		clock:   clockwork.NewFakeClock(),
		reader:  newReader(t, gated),
		results: make(chan domain.QueryResult, 100),
		hook:    hook,
	}
	h.sched = New(Options{
		Log:      h.reader,
		Interval: interval,
		Clock:    h.clock,
		Logger:   logger,
		Consumer: viewer.Func(func(r domain.QueryResult) { h.results <- r }),
	})
	t.Cleanup(func() {
		if h.reader.gate != nil {
			select {
			case <-h.reader.gate:
			default:
				close(h.reader.gate)
			}
		}
		h.sched.Stop()
		h.sched.Wait()
	})
	return h
}

func (h *harness) waitTicker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1), "ticker never armed")
}

func (h *harness) logged(msg string) bool {
	for _, e := range h.hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func (h *harness) expectResult(t *testing.T) domain.QueryResult {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("expected a delivered result")
		return domain.QueryResult{}
	}
}

func (h *harness) expectNoResult(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.results:
		t.Fatalf("unexpected result delivered: %+v", r.Query)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_StartQueriesImmediatelyThenOnTicks(t *testing.T) {
	h := newHarness(t, false)

	assert.False(t, h.sched.Running())
	h.sched.Start()
	assert.True(t, h.sched.Running())

	h.expectResult(t)
	h.waitTicker(t)

	h.clock.Advance(interval)
	h.expectResult(t)

	h.clock.Advance(interval)
	h.expectResult(t)

	assert.Equal(t, int32(3), h.reader.reads.Load())
}

func TestScheduler_StartStormYieldsOneChain(t *testing.T) {
	h := newHarness(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sched.Start()
		}()
	}
	wg.Wait()

	h.expectResult(t)
	h.waitTicker(t)
	h.expectNoResult(t)

	h.clock.Advance(interval)
	h.expectResult(t)
	h.expectNoResult(t)

	assert.Equal(t, int32(2), h.reader.reads.Load())
}

func TestScheduler_StopCancelsFutureTicks(t *testing.T) {
	h := newHarness(t, false)

	h.sched.Start()
	h.expectResult(t)
	h.waitTicker(t)

	h.sched.Stop()
	assert.False(t, h.sched.Running())
	h.sched.Stop() // no-op

	h.clock.Advance(10 * interval)
	h.expectNoResult(t)
	assert.Equal(t, int32(1), h.reader.reads.Load())
}

func TestScheduler_DiscardsResultAfterStop(t *testing.T) {
	h := newHarness(t, true)

	h.sched.Start()
	require.Eventually(t, func() bool { return h.reader.reads.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The query is in flight; stopping must not wait for it.
	h.sched.Stop()
	close(h.reader.gate)
	h.sched.Wait()

	h.expectNoResult(t)
}

func TestScheduler_SkipsTickWhileQueryInFlight(t *testing.T) {
	h := newHarness(t, true)

	h.sched.Start()
	h.waitTicker(t)
	require.Eventually(t, func() bool { return h.reader.reads.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(interval)
	require.Eventually(t, func() bool {
		return h.logged("skipping tick, previous query still running")
	}, 2*time.Second, 5*time.Millisecond)

	close(h.reader.gate)
	h.expectResult(t)
	h.expectNoResult(t)
	assert.Equal(t, int32(1), h.reader.reads.Load(), "skipped tick must not scan")
}

func TestScheduler_TriggerDuringQueryRunsAfterIt(t *testing.T) {
	h := newHarness(t, true)

	h.sched.Start()
	require.Eventually(t, func() bool { return h.reader.reads.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.sched.Update(domain.Session{Filter: "nobody"})
	h.sched.Trigger()
	require.Eventually(t, func() bool {
		return h.logged("deferring refresh until running query finishes")
	}, 2*time.Second, 5*time.Millisecond)

	close(h.reader.gate)

	first := h.expectResult(t)
	assert.Empty(t, first.Query.Filter)
	assert.Len(t, first.Trades, 1)

	second := h.expectResult(t)
	assert.Equal(t, "nobody", second.Query.Filter)
	assert.True(t, second.Summary.Empty)

	h.expectNoResult(t)
	assert.Equal(t, int32(2), h.reader.reads.Load())
}

func TestScheduler_RestartDuringStaleQueryQueriesImmediately(t *testing.T) {
	h := newHarness(t, true)

	h.sched.Start()
	require.Eventually(t, func() bool { return h.reader.reads.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.sched.Stop()
	h.sched.Start()

	// The new period scans without waiting for the old query or a tick.
	require.Eventually(t, func() bool { return h.reader.reads.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.logged("skipping tick, previous query still running"))

	close(h.reader.gate)
	h.expectResult(t)
	h.expectNoResult(t)
}

func TestScheduler_RestartStartsNewGeneration(t *testing.T) {
	h := newHarness(t, false)

	h.sched.Start()
	h.expectResult(t)
	h.sched.Stop()

	h.sched.Start()
	h.expectResult(t)
	assert.True(t, h.sched.Running())
	assert.Equal(t, int32(2), h.reader.reads.Load())
}

func TestScheduler_UpdateAffectsNextTick(t *testing.T) {
	h := newHarness(t, false)

	h.sched.Start()
	first := h.expectResult(t)
	assert.Len(t, first.Trades, 1)
	h.waitTicker(t)

	h.sched.Update(domain.Session{Filter: "nobody", Sort: domain.SortMostValue})
	h.clock.Advance(interval)

	second := h.expectResult(t)
	assert.Equal(t, "nobody", second.Query.Filter)
	assert.True(t, second.Summary.Empty)
}

func TestScheduler_TriggerAndSetConsumer(t *testing.T) {
	h := newHarness(t, false)

	h.sched.Trigger() // ignored while stopped
	h.expectNoResult(t)

	h.sched.Start()
	h.expectResult(t)

	other := make(chan domain.QueryResult, 1)
	h.sched.SetConsumer(viewer.Func(func(r domain.QueryResult) { other <- r }))
	h.sched.Trigger()

	select {
	case <-other:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not refresh")
	}
	h.expectNoResult(t)
}

type triggerCounter struct {
	n atomic.Int32
}

func (c *triggerCounter) Trigger() { c.n.Add(1) }

func TestWatchFile_TriggersOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.log")
	counter := &triggerCounter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchFile(ctx, path, counter, nil) }()

	// Keep writing until the watcher is armed and reports it.
	require.Eventually(t, func() bool {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return false
		}
		_, _ = f.WriteString("line\n")
		_ = f.Close()
		return counter.n.Load() > 0
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchFile did not return after cancel")
	}
}

func TestWatchFile_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	counter := &triggerCounter{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = WatchFile(ctx, filepath.Join(dir, "trades.log"), counter, nil) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, counter.n.Load())
}
