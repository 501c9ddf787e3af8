package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig() *WSConfig {
	return &WSConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		PingInterval:      20 * time.Millisecond,
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for payload")
		return ""
	}
}

func TestWSSource_StreamsFramesAndSubscribes(t *testing.T) {
	subscribed := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"all-trades","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.SubscribeFrames = []string{`{"type":"subscribe","channel":"trades:all"}`}

	logger, _ := test.NewNullLogger()
	src := NewWSSource(wsURL(server), cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case frame := <-subscribed:
		assert.Equal(t, `{"type":"subscribe","channel":"trades:all"}`, frame)
	case <-time.After(3 * time.Second):
		t.Fatal("server never received subscribe frame")
	}

	assert.Equal(t, `{"type":"all-trades","data":{}}`, receive(t, ch))
	assert.Equal(t, `{"type":"ping"}`, receive(t, ch))
}

func TestWSSource_ReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connections.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("frame-"+string(rune('0'+n))))
		if n == 1 {
			// Drop the first connection abruptly.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	logger, hook := test.NewNullLogger()
	src := NewWSSource(wsURL(server), testConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	assert.Equal(t, "frame-1", receive(t, ch))
	assert.Equal(t, "frame-2", receive(t, ch))
	assert.GreaterOrEqual(t, connections.Load(), int32(2))

	var sawReconnect bool
	for _, e := range hook.AllEntries() {
		if e.Message == "reconnected" {
			sawReconnect = true
		}
	}
	assert.True(t, sawReconnect)
}

func TestWSSource_CancelClosesChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	src := NewWSSource(wsURL(server), testConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWSSource_InitialDialFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := NewWSSource("ws://127.0.0.1:1/feed", testConfig(), logger)

	_, err := src.Subscribe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial")
}

func TestNewWSSource_Defaults(t *testing.T) {
	src := NewWSSource("ws://example.invalid", &WSConfig{PingInterval: time.Second}, nil)

	def := DefaultWSConfig()
	assert.Equal(t, time.Second, src.config.PingInterval)
	assert.Equal(t, def.ReconnectDelay, src.config.ReconnectDelay)
	assert.Equal(t, def.MaxReconnectDelay, src.config.MaxReconnectDelay)
	assert.Equal(t, def.BufferSize, src.config.BufferSize)
}
