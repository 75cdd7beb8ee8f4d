package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quantpilot/internal/eventlog"
	"quantpilot/internal/logger"
	"quantpilot/internal/metrics"
)

// Client owns exactly one logical connection to the signal feed. Run dials,
// subscribes the active symbol set after a short settle delay, and consumes
// messages until the socket fails, then waits a fixed delay and redials. The
// loop structure guarantees at most one pending reconnect at any time.
type Client struct {
	url            string
	reconnectDelay time.Duration
	settleDelay    time.Duration

	log    *logger.Logger
	events *eventlog.Log
	state  *ConnState

	mu       sync.Mutex
	conn     *websocket.Conn
	symbols  map[string]bool
	handlers map[MessageKind]Handler

	closeOnce sync.Once
}

type Config struct {
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
	SettleDelay    time.Duration
}

func New(cfg Config, log *logger.Logger, events *eventlog.Log) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s] = true
	}
	return &Client{
		url:            cfg.URL,
		reconnectDelay: cfg.ReconnectDelay,
		settleDelay:    cfg.SettleDelay,
		log:            log,
		events:         events,
		state:          NewConnState(),
		symbols:        symbols,
		handlers:       make(map[MessageKind]Handler),
	}
}

func (c *Client) State() *ConnState {
	return c.state
}

// Handle registers the consumer for one message kind. Must be called before
// Run; the handler runs on the read loop goroutine in arrival order.
func (c *Client) Handle(kind MessageKind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = h
}

func (c *Client) Run(ctx context.Context) error {
	go c.healthLoop(ctx)
	go func() {
		<-ctx.Done()
		c.teardown()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.state.markConnecting()
		c.logEntry().WithField("url", c.url).Info("connecting to feed")

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.state.markDisconnected(err, time.Now())
			c.events.AppendThrottled(eventlog.KindSystem, "feed_dial", fmt.Sprintf("feed dial failed: %v", err))
			if !c.wait(ctx, c.reconnectDelay) {
				return nil
			}
			metrics.ReconnectsTotal.Inc()
			continue
		}

		conn.SetReadLimit(2 << 20)
		c.setConn(conn)
		c.state.markConnected(time.Now())
		c.logEntry().Info("feed connected")

		// Settle before subscribing so a burst of reconnects across the
		// fleet does not turn into a subscribe storm at socket open.
		if !c.wait(ctx, c.settleDelay) {
			c.teardown()
			return nil
		}
		if err := c.subscribeAll(); err != nil {
			c.logEntry().WithError(err).Warn("subscribe failed")
			c.dropConn(conn, err)
			if !c.wait(ctx, c.reconnectDelay) {
				return nil
			}
			metrics.ReconnectsTotal.Inc()
			continue
		}

		err = c.readLoop(conn)
		c.dropConn(conn, err)
		if ctx.Err() != nil {
			return nil
		}

		c.logEntry().WithError(err).Warn("feed connection lost, scheduling reconnect")
		c.events.AppendThrottled(eventlog.KindSystem, "feed_lost", "feed connection lost")
		if !c.wait(ctx, c.reconnectDelay) {
			return nil
		}
		metrics.ReconnectsTotal.Inc()
	}
}

// Subscribe adds a symbol to the active set and, if connected, sends the
// subscribe request immediately.
func (c *Client) Subscribe(symbol string) error {
	c.mu.Lock()
	c.symbols[symbol] = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbol: symbol})
}

func (c *Client) Unsubscribe(symbol string) error {
	c.mu.Lock()
	delete(c.symbols, symbol)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.WriteJSON(subscribeRequest{Op: "unsubscribe", Symbol: symbol})
}

func (c *Client) subscribeAll() error {
	c.mu.Lock()
	conn := c.conn
	symbols := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		symbols = append(symbols, s)
	}
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	for _, s := range symbols {
		if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbol: s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.logEntry().WithField("count", len(symbols)).Info("subscriptions issued")
	return nil
}

// healthLoop recomputes connection status once per second, independent of
// the read loop so classification never stalls behind a blocked read.
func (c *Client) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.state.Reclassify(now)
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// dropConn closes and forgets the socket. Safe to call more than once per
// connection; a repeated close is a no-op.
func (c *Client) dropConn(conn *websocket.Conn, err error) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.state.markDisconnected(err, time.Now())
}

// teardown is the idempotent shutdown path: the socket is closed exactly
// once, which also unblocks a pending ReadMessage.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.state.markDisconnected(nil, time.Now())
	})
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("stream")
}
