// Package file implements the durable, line-oriented trade log of record.
//
// Each record is one line: "[capture time] {json}\n". Appends are serialized
// by a writer mutex and issued as a single write on an O_APPEND descriptor,
// then fsynced. Readers open their own descriptor and never take the writer
// lock; a trailing line without its newline belongs to an in-flight append
// and is ignored.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tradewatch/internal/decoder"
	"tradewatch/internal/domain"
	"tradewatch/internal/observability"
	"tradewatch/internal/storage"
)

const backendName = "file"

// DefaultPath is the log file used when none is configured.
const DefaultPath = "rugplay_trades.log"

// Options configures a TradeLog.
type Options struct {
	// Logger for skipped-record diagnostics (optional).
	Logger *logrus.Logger
	// NoSync skips fsync after each append. Only for tests and bulk imports.
	NoSync bool
}

// TradeLog is an append-only trade log backed by a single file.
type TradeLog struct {
	path   string
	noSync bool
	log    *logrus.Entry

	mu     sync.Mutex // serializes appends
	f      *os.File   // nil after a write failure until reopened
	closed bool
}

// Compile-time interface check.
var _ storage.TradeLog = (*TradeLog)(nil)

// Open opens (creating if needed) the log at path. Existing content is kept.
func Open(path string, opts *Options) (*TradeLog, error) {
	if opts == nil {
		opts = &Options{}
	}
	if path == "" {
		path = DefaultPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	l := &TradeLog{
		path:   path,
		noSync: opts.NoSync,
		log:    logger.WithFields(logrus.Fields{"component": "tradelog", "path": path}),
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory %s: %v", storage.ErrLogUnavailable, dir, err)
		}
	}
	f, err := l.openAppend()
	if err != nil {
		return nil, err
	}
	l.f = f
	return l, nil
}

// Path returns the file path of the log.
func (l *TradeLog) Path() string {
	return l.path
}

func (l *TradeLog) openAppend() (*os.File, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", storage.ErrLogUnavailable, l.path, err)
	}
	return f, nil
}

// Append writes one record and makes it durable before returning.
func (l *TradeLog) Append(ctx context.Context, e domain.TradeEvent) (err error) {
	if err := storage.Validate(e); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := decoder.EncodeLine(e)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", storage.ErrInvalidInput, err)
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
	if l.f == nil {
		f, err := l.openAppend()
		if err != nil {
			return err
		}
		l.f = f
	}

	n, werr := l.f.Write(line)
	if werr != nil || n != len(line) {
		if n > 0 && n < len(line) {
			// Terminate the torn record so it cannot merge with the next one.
			_, _ = l.f.Write([]byte{'\n'})
		}
		l.dropHandle()
		if werr == nil {
			werr = io.ErrShortWrite
		}
		return fmt.Errorf("%w: write %s: %v", storage.ErrLogWriteFailed, l.path, werr)
	}
	if !l.noSync {
		if err := l.f.Sync(); err != nil {
			l.dropHandle()
			return fmt.Errorf("%w: sync %s: %v", storage.ErrLogWriteFailed, l.path, err)
		}
	}
	return nil
}

// dropHandle closes the append descriptor so the next append reopens it.
// Callers hold l.mu.
func (l *TradeLog) dropHandle() {
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
}

// ReadAll scans the whole file in append order.
func (l *TradeLog) ReadAll(ctx context.Context) (events []domain.TradeEvent, err error) {
	start := time.Now()
	skipped := 0
	defer func() {
		observability.RecordLogRead(backendName, time.Since(start).Seconds(), skipped, err)
	}()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.TradeEvent{}, nil
		}
		return nil, fmt.Errorf("%w: open %s for read: %v", storage.ErrLogUnavailable, l.path, err)
	}
	defer f.Close()

	events = []domain.TradeEvent{}
	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		raw, rerr := r.ReadString('\n')
		if rerr != nil {
			if rerr == io.EOF {
				// Anything left in raw is an unterminated in-flight record.
				break
			}
			return nil, fmt.Errorf("%w: read %s: %v", storage.ErrLogUnavailable, l.path, rerr)
		}
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		e, derr := decoder.DecodeLine(line)
		if derr != nil {
			skipped++
			l.log.WithError(derr).WithField("line", lineNo).Warn("skipping undecodable record")
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Count returns the number of decodable records.
func (l *TradeLog) Count(ctx context.Context) (int, error) {
	events, err := l.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// Close closes the append descriptor. Reads of the file are unaffected.
func (l *TradeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
