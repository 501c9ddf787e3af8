package feed

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"tradewatch/internal/ingestion"
)

// maxLineSize bounds a single replayed payload.
const maxLineSize = 4 * 1024 * 1024

// LineSource replays newline-separated payloads from a reader, such as an
// existing trade log or frames piped on stdin. The channel closes at EOF.
type LineSource struct {
	r      io.Reader
	logger *logrus.Entry
}

// Compile-time interface check.
var _ ingestion.Source = (*LineSource)(nil)

// NewLineSource creates a LineSource over r.
func NewLineSource(r io.Reader, logger *logrus.Logger) *LineSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LineSource{r: r, logger: logger.WithField("component", "replay")}
}

// Subscribe starts reading r in the background.
func (s *LineSource) Subscribe(ctx context.Context) (<-chan string, error) {
	out := make(chan string, 256)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		lines := 0
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			lines++
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.WithError(err).WithField("lines", lines).Error("replay aborted")
			return
		}
		s.logger.WithField("lines", lines).Info("replay finished")
	}()

	return out, nil
}
