package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"quantpilot/internal/config"
	"quantpilot/internal/eventlog"
	"quantpilot/internal/gate"
	"quantpilot/internal/logger"
	"quantpilot/internal/metrics"
	"quantpilot/internal/models"
	"quantpilot/internal/plans"
	"quantpilot/internal/signal"
	"quantpilot/internal/signing"
	"quantpilot/internal/stream"
	"quantpilot/internal/venue"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	log.Info("quantpilot starting")

	if cfg.Runtime.MetricsAddr != "" {
		metrics.Serve(cfg.Runtime.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := eventlog.New(500, 30*time.Second)
	venueClient := venue.New(cfg.Venue.BaseURL, cfg.Venue.APIToken, log)

	session, err := signing.New(cfg.Signing.AgentKey, cfg.Signing.OwnerAddress, log)
	if err != nil {
		log.WithError(err).Fatal("signing session init failed")
	}
	if !session.Usable() {
		log.Warn("no agent key configured, autonomous execution will stay gated")
	}

	assets, err := fetchAssets(ctx, venueClient)
	if err != nil {
		log.WithError(err).Fatal("asset metadata unavailable")
	}
	log.WithFields(map[string]interface{}{"assets": len(assets)}).Info("asset universe loaded")

	sigEngine := signal.New(signal.Config{
		Alpha:              cfg.Signals.Alpha,
		ScoreDeadband:      cfg.Signals.ScoreDeadband,
		ConvictionDeadband: cfg.Signals.ConvictionDeadband,
		ForceRefresh:       cfg.Signals.ForceRefresh,
		BiasStreak:         cfg.Signals.BiasStreak,
	}, log)

	planCache := plans.New(cfg.Signals.PlanTTL, cfg.Signals.PlanSweepEvery, log)
	prices := stream.NewPriceBook(30 * time.Second)

	feed := stream.New(stream.Config{
		URL:            cfg.Feed.URL,
		Symbols:        cfg.Feed.Symbols,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		SettleDelay:    cfg.Feed.SettleDelay,
	}, log, events)

	feed.Handle(stream.KindSignal, func(data json.RawMessage) {
		var upd stream.SignalUpdate
		if err := json.Unmarshal(data, &upd); err != nil || upd.Symbol == "" {
			metrics.MalformedTotal.Inc()
			return
		}
		sigEngine.Apply(upd.Symbol, upd.Score, upd.Conviction)
	})

	feed.Handle(stream.KindPlan, func(data json.RawMessage) {
		var plan models.ExecutionPlan
		if err := json.Unmarshal(data, &plan); err != nil || plan.Symbol == "" {
			metrics.MalformedTotal.Inc()
			return
		}
		planCache.Upsert(plan)
		events.AppendThrottled(eventlog.KindPlan, "plan:"+plan.Symbol,
			fmt.Sprintf("plan received for %s ($%.0f, %s)", plan.Symbol, plan.TotalSizeUSD, plan.Strategy))
	})

	feed.Handle(stream.KindMarket, func(data json.RawMessage) {
		var upd stream.MarketUpdate
		if err := json.Unmarshal(data, &upd); err != nil || upd.Symbol == "" {
			metrics.MalformedTotal.Inc()
			return
		}
		mid := upd.Mid
		if mid <= 0 {
			mid = upd.Last
		}
		prices.Update(upd.Symbol, mid)
	})

	feed.Handle(stream.KindRisk, func(data json.RawMessage) {
		events.AppendThrottled(eventlog.KindIntel, "risk", "risk sizing update received")
	})

	feed.Handle(stream.KindGovernance, func(data json.RawMessage) {
		events.AppendThrottled(eventlog.KindSystem, "governance", "governance update received")
	})

	feed.Handle(stream.KindLog, func(data json.RawMessage) {
		var line stream.LogLine
		if err := json.Unmarshal(data, &line); err != nil || line.Message == "" {
			return
		}
		events.Append(eventlog.KindIntel, line.Message)
	})

	executor := gate.New(gate.Config{
		Interval:           cfg.Gate.Interval,
		MinNotionalUSD:     cfg.Gate.MinNotionalUSD,
		MaxNotionalUSD:     cfg.Gate.MaxNotionalUSD,
		Cooldown:           cfg.Gate.Cooldown,
		SubmitTimeout:      cfg.Gate.SubmitTimeout,
		TriggerScore:       cfg.Gate.TriggerScore,
		TriggerStreak:      cfg.Gate.TriggerStreak,
		TriggerNotionalUSD: cfg.Gate.TriggerNotional,
		TriggerCooldown:    cfg.Gate.TriggerCooldown,
		MaxOpenPositions:   cfg.Gate.MaxOpenPositions,
	}, sigEngine, planCache, session, venueClient, assets, prices, events, log)

	executor.SetAuth(gate.AuthSession{
		Token:     cfg.Venue.APIToken,
		ExpiresAt: time.Now().Add(cfg.Gate.AuthTTL),
	})
	if cfg.Gate.Enabled {
		executor.Enable()
		log.Info("autonomous mode enabled")
	}

	go planCache.Run(ctx)
	go feed.Run(ctx)
	go executor.Run(ctx)
	go verifyLoop(ctx, session, venueClient)

	<-sigCh
	cancel()
	log.Info("quantpilot stopped")
}

func fetchAssets(ctx context.Context, client *venue.Client) (map[string]venue.Asset, error) {
	var lastErr error
	wait := 1 * time.Second
	for i := 0; i < 5; i++ {
		assets, err := client.Meta(ctx)
		if err == nil {
			return assets, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, lastErr
}

// verifyLoop refreshes the advisory agent-authorization status. Failures are
// tolerated: verification is best effort and never blocks signing.
func verifyLoop(ctx context.Context, session *signing.Session, verifier signing.AgentVerifier) {
	if !session.Usable() {
		return
	}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	_ = session.Verify(ctx, verifier)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = session.Verify(ctx, verifier)
		}
	}
}
