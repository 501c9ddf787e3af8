// Package feed provides payload sources for the ingestor: a reconnecting
// websocket client for the live feed and a line reader for replays.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tradewatch/internal/ingestion"
	"tradewatch/internal/observability"
)

// WSConfig configures WebSocket source behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a connection may stay silent (no frame, no pong).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// SubscribeFrames are raw text frames sent after every (re)connect.
	SubscribeFrames []string
	// Header is sent with the handshake request (Origin, cookies).
	Header http.Header
	// BufferSize is the capacity of the payload channel.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		BufferSize:        1024,
	}
}

// WSSource streams every text frame of a websocket endpoint as a payload.
type WSSource struct {
	endpoint string
	config   WSConfig
	dialer   websocket.Dialer
	logger   *logrus.Entry
}

// Compile-time interface check.
var _ ingestion.Source = (*WSSource)(nil)

// NewWSSource creates a source for endpoint. Zero config fields take defaults.
func NewWSSource(endpoint string, config *WSConfig, logger *logrus.Logger) *WSSource {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = mergeConfig(cfg, *config)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &WSSource{
		endpoint: endpoint,
		config:   cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger:   logger.WithFields(logrus.Fields{"component": "feed", "endpoint": endpoint}),
	}
}

func mergeConfig(def, c WSConfig) WSConfig {
	if c.ReconnectDelay > 0 {
		def.ReconnectDelay = c.ReconnectDelay
	}
	if c.MaxReconnectDelay > 0 {
		def.MaxReconnectDelay = c.MaxReconnectDelay
	}
	if c.PingInterval > 0 {
		def.PingInterval = c.PingInterval
	}
	if c.ReadTimeout > 0 {
		def.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		def.WriteTimeout = c.WriteTimeout
	}
	if c.HandshakeTimeout > 0 {
		def.HandshakeTimeout = c.HandshakeTimeout
	}
	if c.BufferSize > 0 {
		def.BufferSize = c.BufferSize
	}
	def.SubscribeFrames = c.SubscribeFrames
	def.Header = c.Header
	return def
}

// Subscribe connects and starts streaming. The first connection must
// succeed; later drops are retried with exponential backoff until ctx ends,
// at which point the channel is closed.
func (s *WSSource) Subscribe(ctx context.Context) (<-chan string, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("connected")

	out := make(chan string, s.config.BufferSize)
	go s.run(ctx, conn, out)
	return out, nil
}

// connect dials the endpoint and sends the subscribe frames.
func (s *WSSource) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, s.config.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	for _, frame := range s.config.SubscribeFrames {
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("write subscribe: %w", err)
		}
	}
	return conn, nil
}

// run pumps conn and reconnects on failure. It owns out.
func (s *WSSource) run(ctx context.Context, conn *websocket.Conn, out chan<- string) {
	defer close(out)

	delay := s.config.ReconnectDelay
	for {
		received, err := s.pump(ctx, conn, out)
		if ctx.Err() != nil {
			return
		}
		// Reset delay once a connection has proven healthy.
		if received {
			delay = s.config.ReconnectDelay
		}
		s.logger.WithError(err).Warn("connection lost, reconnecting")

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			observability.RecordFeedReconnect()
			conn, err = s.connect(ctx)

			// Increase delay for next reconnect (exponential backoff)
			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}

			if err == nil {
				s.logger.Info("reconnected")
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).WithField("next_delay", delay).Warn("reconnect failed")
		}
	}
}

// pump reads frames until the connection fails or ctx ends, then closes conn.
func (s *WSSource) pump(ctx context.Context, conn *websocket.Conn, out chan<- string) (received bool, err error) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.config.WriteTimeout))
			conn.Close()
		case <-done:
		}
	}()
	go s.pingLoop(conn, done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return received, ctx.Err()
			}
			return received, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		received = true

		// Block until the ingestor takes it; never drop frames.
		select {
		case out <- string(message):
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
// WriteControl is safe to call concurrently with the reader.
func (s *WSSource) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				// Connection might be dead, reader will handle reconnect
				s.logger.WithError(err).Debug("ping failed")
			}
		}
	}
}
