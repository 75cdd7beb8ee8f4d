package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"quantpilot/internal/eventlog"
	"quantpilot/internal/metrics"
)

// readLoop consumes messages until the socket errors. Dispatch happens on
// this goroutine so per-connection ordering is preserved; smoothing is a fold
// over time and must not see reordered updates for the same symbol.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.state.markMessage(time.Now())
		c.dispatch(data)
	}
}

// dispatch routes one raw frame by its type tag. Malformed payloads are
// dropped and recorded; they never take the connection down.
func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		metrics.MalformedTotal.Inc()
		c.events.AppendThrottled(eventlog.KindSystem, "feed_malformed", "malformed feed message dropped")
		c.logEntry().Debug(fmt.Sprintf("malformed feed message (%d bytes) dropped", len(data)))
		return
	}

	metrics.MessagesTotal.WithLabelValues(string(env.Type)).Inc()

	c.mu.Lock()
	handler := c.handlers[env.Type]
	c.mu.Unlock()

	if handler == nil {
		// Unknown kinds are ignored by design of the feed protocol.
		return
	}
	handler(env.Data)
}
