package plans

import (
	"context"
	"strings"
	"sync"
	"time"

	"quantpilot/internal/logger"
	"quantpilot/internal/metrics"
	"quantpilot/internal/models"
)

// Cache holds the latest execution plan per symbol with TTL eviction.
//
// Upsert always accepts an incoming plan. Staleness of the entry already in
// the cache is never a reason to refuse a newer update; only the periodic
// sweep and Get apply the TTL, and they apply it to the stored plan's own
// age.
type Cache struct {
	ttl        time.Duration
	sweepEvery time.Duration
	log        *logger.Logger

	mu    sync.RWMutex
	plans map[string]models.ExecutionPlan

	now func() time.Time
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(ttl, sweepEvery time.Duration, log *logger.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Second
	}
	c := &Cache{
		ttl:        ttl,
		sweepEvery: sweepEvery,
		log:        log,
		plans:      make(map[string]models.ExecutionPlan),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Upsert stores the plan, replacing any previous one for the symbol. A zero
// CreatedAt is stamped with local receipt time.
func (c *Cache) Upsert(plan models.ExecutionPlan) {
	plan.Symbol = strings.ToUpper(plan.Symbol)
	if plan.Symbol == "" {
		return
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = c.now()
	}

	c.mu.Lock()
	c.plans[plan.Symbol] = plan
	c.mu.Unlock()
}

// Get returns the cached plan if one exists and is still within its TTL.
func (c *Cache) Get(symbol string) (models.ExecutionPlan, bool) {
	c.mu.RLock()
	plan, ok := c.plans[strings.ToUpper(symbol)]
	c.mu.RUnlock()

	if !ok || plan.Stale(c.now(), c.ttl) {
		return models.ExecutionPlan{}, false
	}
	return plan, true
}

// Snapshot returns all non-stale plans.
func (c *Cache) Snapshot() []models.ExecutionPlan {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ExecutionPlan, 0, len(c.plans))
	for _, plan := range c.plans {
		if !plan.Stale(now, c.ttl) {
			out = append(out, plan)
		}
	}
	return out
}

// Run drives the periodic sweep until the context is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep removes every entry older than the TTL. Returns the eviction count.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for symbol, plan := range c.plans {
		if plan.Stale(now, c.ttl) {
			delete(c.plans, symbol)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.PlansEvicted.Add(float64(evicted))
		c.log.WithComponent("plans").WithFields(map[string]interface{}{
			"evicted": evicted,
		}).Debug("stale plans evicted")
	}
	return evicted
}
