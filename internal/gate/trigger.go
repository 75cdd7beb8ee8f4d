package gate

import (
	"context"

	"quantpilot/internal/models"
)

// evaluateTriggers is the simpler fallback mode: it fires on raw score and
// streak thresholds alone, without a plan, under a global cap on concurrently
// open autonomous positions and a coarser per-symbol cooldown. Order
// construction goes through the same signing path as plan executions.
func (g *Gate) evaluateTriggers(ctx context.Context) {
	now := g.now()

	if !g.authValid(now) || !g.session.Usable() {
		return
	}

	for _, sig := range g.signals.All() {
		if ctx.Err() != nil {
			return
		}
		if sig.Score < g.cfg.TriggerScore || sig.BiasStreak < g.cfg.TriggerStreak {
			continue
		}

		var direction models.Side
		switch sig.Bias {
		case models.BiasLong:
			direction = models.SideBuy
		case models.BiasShort:
			direction = models.SideSell
		default:
			continue
		}

		symbol := sig.Symbol
		asset, ok := g.assets[symbol]
		if !ok {
			continue
		}
		mid, ok := g.prices.Mid(symbol)
		if !ok {
			continue
		}

		g.mu.Lock()
		a := g.attempt(symbol)
		if a.inFlight ||
			(!a.lastTriggerAt.IsZero() && now.Sub(a.lastTriggerAt) < g.cfg.TriggerCooldown) ||
			(!a.lastExecutedAt.IsZero() && now.Sub(a.lastExecutedAt) < g.cfg.Cooldown) {
			g.mu.Unlock()
			continue
		}
		if !g.open[symbol] && len(g.open) >= g.cfg.MaxOpenPositions {
			g.mu.Unlock()
			g.skip(symbol, "position_cap", "autonomous position cap reached")
			continue
		}
		a.inFlight = true
		g.mu.Unlock()

		fp := Fingerprint(direction, "trigger", g.cfg.TriggerNotionalUSD, sig.Score)
		g.submit(ctx, submission{
			symbol:      symbol,
			direction:   direction,
			asset:       asset,
			mid:         mid,
			notionalUSD: g.cfg.TriggerNotionalUSD,
			fingerprint: fp,
			origin:      "trigger",
			strategy:    "trigger",
		})
	}
}
