package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantpilot/internal/eventlog"
	"quantpilot/internal/logger"
)

func TestDispatchSurvivesMalformedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}

	frames := [][]byte{
		[]byte(`this is not json`),
		[]byte(`{"type":"mystery","data":{}}`),
		[]byte(`{"type":"signal","data":{"symbol":"BTC","score":72.5,"conviction":0.6}}`),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// First inbound frame is the subscribe request.
		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Op != "subscribe" || sub.Symbol != "BTC" {
			return
		}

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}

		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := New(Config{
		URL:            wsURL,
		Symbols:        []string{"BTC"},
		ReconnectDelay: 50 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
	}, logger.Discard(), eventlog.New(100, time.Minute))

	got := make(chan SignalUpdate, 1)
	client.Handle(KindSignal, func(data json.RawMessage) {
		var upd SignalUpdate
		if err := json.Unmarshal(data, &upd); err != nil {
			return
		}
		got <- upd
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = client.Run(ctx)
		close(done)
	}()

	select {
	case upd := <-got:
		assert.Equal(t, "BTC", upd.Symbol)
		assert.Equal(t, 72.5, upd.Score)
	case <-time.After(5 * time.Second):
		t.Fatal("signal update not dispatched")
	}

	assert.True(t, client.State().Snapshot().Connected)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not shut down")
	}
	assert.Equal(t, StatusDisconnected, client.State().Snapshot().Status)
}

func TestReconnectAfterServerDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connects := make(chan struct{}, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connects <- struct{}{}
		// Drop the connection immediately after the subscribe request.
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := New(Config{
		URL:            wsURL,
		Symbols:        []string{"ETH"},
		ReconnectDelay: 20 * time.Millisecond,
		SettleDelay:    1 * time.Millisecond,
	}, logger.Discard(), eventlog.New(100, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected connection %d", i+1)
		}
	}

	require.GreaterOrEqual(t, client.State().Snapshot().ReconnectCount, 1)
}
