package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quantpilot/internal/eventlog"
	"quantpilot/internal/logger"
	"quantpilot/internal/metrics"
	"quantpilot/internal/models"
	"quantpilot/internal/plans"
	"quantpilot/internal/signal"
	"quantpilot/internal/signing"
	"quantpilot/internal/stream"
	"quantpilot/internal/venue"
)

// Venue is the order-acceptance side of the exchange.
type Venue interface {
	SubmitOrder(ctx context.Context, order models.Order, asset venue.Asset, session *signing.Session) error
}

type Config struct {
	Interval           time.Duration
	MinNotionalUSD     float64
	MaxNotionalUSD     float64
	Cooldown           time.Duration
	SubmitTimeout      time.Duration
	TriggerScore       float64
	TriggerStreak      int
	TriggerNotionalUSD float64
	TriggerCooldown    time.Duration
	MaxOpenPositions   int
}

// attempt is the per-symbol execution bookkeeping: the in-flight guard, the
// cooldown anchor, and the fingerprint of the last submitted plan.
type attempt struct {
	inFlight        bool
	lastExecutedAt  time.Time
	lastFingerprint string
	lastTriggerAt   time.Time
}

// Gate is the only component permitted to cause money to move. A periodic
// evaluator walks current plans (and, as a fallback, raw score/streak
// triggers) through an ordered precondition chain; a symbol that passes every
// check gets at most one signed order per qualifying opportunity.
type Gate struct {
	cfg     Config
	signals *signal.Engine
	plans   *plans.Cache
	session *signing.Session
	venue   Venue
	assets  map[string]venue.Asset
	prices  *stream.PriceBook
	events  *eventlog.Log
	log     *logger.Logger

	enabled atomic.Bool

	mu       sync.Mutex
	auth     AuthSession
	attempts map[string]*attempt
	open     map[string]bool

	submitting sync.WaitGroup

	now func() time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(
	cfg Config,
	signals *signal.Engine,
	planCache *plans.Cache,
	session *signing.Session,
	v Venue,
	assets map[string]venue.Asset,
	prices *stream.PriceBook,
	events *eventlog.Log,
	log *logger.Logger,
	opts ...Option,
) *Gate {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	g := &Gate{
		cfg:      cfg,
		signals:  signals,
		plans:    planCache,
		session:  session,
		venue:    v,
		assets:   assets,
		prices:   prices,
		events:   events,
		log:      log,
		attempts: make(map[string]*attempt),
		open:     make(map[string]bool),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enable arms autonomous mode. Nothing is evaluated while disarmed.
func (g *Gate) Enable()       { g.enabled.Store(true) }
func (g *Gate) Disable()      { g.enabled.Store(false) }
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// SetAuth installs the operator's venue session.
func (g *Gate) SetAuth(auth AuthSession) {
	g.mu.Lock()
	g.auth = auth
	g.mu.Unlock()
}

// Run drives the evaluator. Ticks run synchronously on this goroutine, so
// they can never overlap; submissions detach with a per-symbol in-flight
// guard and are awaited on shutdown.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.submitting.Wait()
			return
		case <-ticker.C:
			if !g.Enabled() {
				continue
			}
			g.Tick(ctx)
		}
	}
}

// Tick evaluates every current plan, then the raw score/streak fallback
// trigger. Exported for tests.
func (g *Gate) Tick(ctx context.Context) {
	for _, plan := range g.plans.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		g.evaluatePlan(ctx, plan)
	}
	g.evaluateTriggers(ctx)
}

// evaluatePlan walks the ordered precondition chain. The first failing check
// short-circuits with a throttled diagnostic; passing everything hands off to
// the signing and submission path.
func (g *Gate) evaluatePlan(ctx context.Context, plan models.ExecutionPlan) {
	symbol := strings.ToUpper(plan.Symbol)
	now := g.now()

	if !g.authValid(now) {
		g.skip(symbol, "auth", "no valid venue session")
		return
	}

	if !g.session.Usable() {
		g.skip(symbol, "signing_key", "no usable signing key")
		return
	}

	direction, ok := g.resolveDirection(plan)
	if !ok {
		g.skip(symbol, "direction", "no resolvable direction")
		return
	}

	asset, ok := g.assets[symbol]
	if !ok {
		g.skip(symbol, "asset", "no venue asset for symbol")
		return
	}

	mid, ok := g.prices.Mid(symbol)
	if !ok {
		g.skip(symbol, "price", "no current reference price")
		return
	}

	if plan.Stale(now, g.plans.TTL()) {
		g.skip(symbol, "stale_plan", "plan past its TTL")
		return
	}

	notional := plan.TotalSizeUSD
	if notional < g.cfg.MinNotionalUSD {
		g.skip(symbol, "min_notional", fmt.Sprintf("notional $%.2f below floor", notional))
		return
	}
	if notional > g.cfg.MaxNotionalUSD {
		g.events.AppendThrottled(eventlog.KindExec, "clip:"+symbol,
			fmt.Sprintf("%s: plan notional $%.0f clipped to cap $%.0f", symbol, notional, g.cfg.MaxNotionalUSD))
		notional = g.cfg.MaxNotionalUSD
	}

	fp := Fingerprint(direction, plan.Strategy, notional, plan.UrgencyScore)

	g.mu.Lock()
	a := g.attempt(symbol)

	if since := now.Sub(a.lastExecutedAt); !a.lastExecutedAt.IsZero() && since < g.cfg.Cooldown {
		g.mu.Unlock()
		g.skip(symbol, "cooldown", "within post-execution cooldown")
		return
	}

	// A materially unchanged plan may only re-execute once the cooldown has
	// fully elapsed a second time.
	if fp == a.lastFingerprint && now.Sub(a.lastExecutedAt) < 2*g.cfg.Cooldown {
		g.mu.Unlock()
		g.skip(symbol, "fingerprint", "plan unchanged since last execution")
		return
	}

	if a.inFlight {
		g.mu.Unlock()
		g.skip(symbol, "in_flight", "execution already in flight")
		return
	}
	a.inFlight = true
	g.mu.Unlock()

	g.submit(ctx, submission{
		symbol:      symbol,
		direction:   direction,
		asset:       asset,
		mid:         mid,
		notionalUSD: notional,
		fingerprint: fp,
		origin:      "plan",
		strategy:    plan.Strategy,
	})
}

func (g *Gate) resolveDirection(plan models.ExecutionPlan) (models.Side, bool) {
	switch plan.Direction {
	case models.SideBuy, models.SideSell:
		return plan.Direction, true
	}
	sig, ok := g.signals.Snapshot(plan.Symbol)
	if !ok {
		return "", false
	}
	switch sig.Bias {
	case models.BiasLong:
		return models.SideBuy, true
	case models.BiasShort:
		return models.SideSell, true
	}
	return "", false
}

type submission struct {
	symbol      string
	direction   models.Side
	asset       venue.Asset
	mid         float64
	notionalUSD float64
	fingerprint string
	origin      string
	strategy    string
}

// submit builds the IOC order, signs, and posts it on a detached goroutine.
// The in-flight guard for the symbol is held until the attempt resolves.
func (g *Gate) submit(ctx context.Context, sub submission) {
	size := sub.notionalUSD / sub.mid

	// Bias the limit one percent through the mid in the trade's favor so an
	// immediate-or-cancel order trades through passive liquidity without
	// resting.
	limit := sub.mid * 1.01
	if sub.direction == models.SideSell {
		limit = sub.mid * 0.99
	}

	order := models.Order{
		Symbol:      sub.symbol,
		AssetID:     sub.asset.ID,
		Side:        sub.direction,
		LimitPrice:  limit,
		Size:        size,
		ReduceOnly:  false,
		TimeInForce: models.TIFImmediateOrCancel,
		ClientID:    uuid.NewString(),
	}

	g.submitting.Add(1)
	go func() {
		defer g.submitting.Done()

		submitCtx, cancel := context.WithTimeout(ctx, g.cfg.SubmitTimeout)
		defer cancel()

		err := g.venue.SubmitOrder(submitCtx, order, sub.asset, g.session)
		now := g.now()

		g.mu.Lock()
		a := g.attempt(sub.symbol)
		a.inFlight = false
		if err == nil {
			a.lastExecutedAt = now
			a.lastFingerprint = sub.fingerprint
			if sub.origin == "trigger" {
				a.lastTriggerAt = now
				g.open[sub.symbol] = true
			}
		}
		g.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			metrics.OrdersFailed.WithLabelValues(sub.symbol).Inc()
			g.events.Append(eventlog.KindExec,
				fmt.Sprintf("%s %s $%.0f failed: %s", sub.direction, sub.symbol, sub.notionalUSD, truncateReason(err)))
			g.logEntry(sub.symbol).WithError(err).Warn("order submission failed")
			return
		}

		metrics.OrdersSubmitted.WithLabelValues(sub.symbol, string(sub.direction)).Inc()
		g.events.Append(eventlog.KindExec,
			fmt.Sprintf("%s %s %.6f @ %.4f ($%.0f, %s)", sub.direction, sub.symbol, order.Size, order.LimitPrice, sub.notionalUSD, sub.origin))
		g.logEntry(sub.symbol).WithFields(logrus.Fields{
			"side":     sub.direction,
			"size":     order.Size,
			"limit":    order.LimitPrice,
			"notional": sub.notionalUSD,
			"strategy": sub.strategy,
			"origin":   sub.origin,
		}).Info("order submitted")
	}()
}

// attempt expects g.mu held.
func (g *Gate) attempt(symbol string) *attempt {
	a, ok := g.attempts[symbol]
	if !ok {
		a = &attempt{}
		g.attempts[symbol] = a
	}
	return a
}

func (g *Gate) authValid(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auth.Valid(now)
}

func (g *Gate) skip(symbol, check, reason string) {
	metrics.GateSkips.WithLabelValues(check).Inc()
	g.events.AppendThrottled(eventlog.KindExec, "skip:"+check+":"+symbol,
		fmt.Sprintf("%s skipped: %s", symbol, reason))
}

func (g *Gate) logEntry(symbol string) *logrus.Entry {
	return g.log.WithComponent("gate").WithField("symbol", symbol)
}

func truncateReason(err error) string {
	msg := err.Error()
	if len(msg) > 160 {
		msg = msg[:160] + "..."
	}
	return msg
}
