package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"tradewatch/internal/domain"
	"tradewatch/internal/query"
	"tradewatch/internal/refresh"
	"tradewatch/internal/storage"
	"tradewatch/internal/viewer"
)

const helpText = `commands:
  user <name>     filter by username substring (no name clears it)
  sort <mode>     newest-first, oldest-first, most-value, least-value, most-coins, least-coins
  search          run the query now
  refresh on|off  toggle auto refresh
  quit            exit
`

// controller applies viewer commands to one session.
type controller struct {
	log      storage.Reader
	engine   *query.Engine
	sched    *refresh.Scheduler
	consumer viewer.Consumer
	out      io.Writer
}

// serve reads commands from r until EOF, quit or ctx cancellation.
func (c *controller) serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		quit, err := c.exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// exec runs one command line. It reports whether the viewer should exit.
func (c *controller) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch strings.ToLower(fields[0]) {
	case "user":
		sess := c.sched.Session()
		sess.Filter = arg
		c.sched.Update(sess)
		return false, c.search(ctx)

	case "sort":
		mode, ok := domain.ParseSortMode(arg)
		if !ok {
			return false, fmt.Errorf("unknown sort mode %q", arg)
		}
		sess := c.sched.Session()
		sess.Sort = mode
		c.sched.Update(sess)
		fmt.Fprintf(c.out, "sorting by %s\n", mode.Label())
		return false, c.search(ctx)

	case "search":
		return false, c.search(ctx)

	case "refresh":
		switch strings.ToLower(arg) {
		case "on":
			c.sched.Start()
			fmt.Fprintf(c.out, "auto refresh every %s\n", c.sched.Interval())
		case "off":
			c.sched.Stop()
			fmt.Fprintln(c.out, "auto refresh off")
		default:
			return false, fmt.Errorf("refresh takes on or off, got %q", arg)
		}
		return false, nil

	case "help", "?":
		fmt.Fprint(c.out, helpText)
		return false, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

// search queries now. While auto refresh is on the scheduler does it, so
// results keep flowing through one path.
func (c *controller) search(ctx context.Context) error {
	if c.sched.Running() {
		c.sched.Trigger()
		return nil
	}
	result, err := c.engine.Query(ctx, c.log, c.sched.Session())
	if err != nil {
		return err
	}
	c.consumer.OnQueryResult(result)
	return nil
}
