package ingestion

import "context"

// Source delivers raw payload strings from an external event source.
type Source interface {
	// Subscribe starts delivery. The channel is closed when the source is
	// exhausted or ctx is cancelled. The ingestor is the single consumer.
	Subscribe(ctx context.Context) (<-chan string, error)
}

// ChanSource adapts an existing channel to Source.
type ChanSource <-chan string

// Subscribe returns the channel itself.
func (c ChanSource) Subscribe(_ context.Context) (<-chan string, error) {
	return c, nil
}
