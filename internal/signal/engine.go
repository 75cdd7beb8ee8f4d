package signal

import (
	"strings"
	"sync"
	"time"

	"quantpilot/internal/logger"
	"quantpilot/internal/metrics"
	"quantpilot/internal/models"
)

const (
	scoreMin = 0.0
	scoreMax = 100.0
	convMin  = -1.0
	convMax  = 1.0

	longThreshold  = 55.0
	shortThreshold = 45.0
)

type Config struct {
	Alpha              float64
	ScoreDeadband      float64
	ConvictionDeadband float64
	ForceRefresh       time.Duration
	BiasStreak         int
}

func DefaultConfig() Config {
	return Config{
		Alpha:              0.08,
		ScoreDeadband:      3.0,
		ConvictionDeadband: 0.1,
		ForceRefresh:       10 * time.Second,
		BiasStreak:         5,
	}
}

type symbolState struct {
	models.SymbolSignal
	lastRawBias models.Bias
}

// Engine folds raw per-symbol signal updates into smoothed state. Apply is
// the single writer; readers take snapshots. Symbols are never deleted —
// a quiet symbol simply stops updating and downstream consumers judge
// staleness from LastUpdateAt.
type Engine struct {
	cfg Config
	log *logger.Logger

	mu      sync.RWMutex
	signals map[string]*symbolState

	now func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg Config, log *logger.Logger, opts ...Option) *Engine {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	if cfg.BiasStreak <= 0 {
		cfg.BiasStreak = DefaultConfig().BiasStreak
	}
	e := &Engine{
		cfg:     cfg,
		log:     log,
		signals: make(map[string]*symbolState),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply folds one raw reading into the smoothed state for symbol and returns
// the resulting snapshot.
//
// Smoothed values move by EMA and are only committed when the step clears the
// deadband, or when the force-refresh interval has elapsed since the last
// accepted update, so staleness cannot hide behind a quiet deadband forever.
// Bias is debounced: the raw bias derived from the accepted score must agree
// for BiasStreak consecutive readings before the published bias switches.
func (e *Engine) Apply(symbol string, rawScore, rawConviction float64) models.SymbolSignal {
	symbol = strings.ToUpper(symbol)
	now := e.now()

	rawScore = clamp(rawScore, scoreMin, scoreMax)
	rawConviction = clamp(rawConviction, convMin, convMax)

	e.mu.Lock()
	defer e.mu.Unlock()

	metrics.SignalsApplied.WithLabelValues(symbol).Inc()

	s, ok := e.signals[symbol]
	if !ok {
		s = &symbolState{
			SymbolSignal: models.SymbolSignal{
				Symbol:        symbol,
				Score:         rawScore,
				Conviction:    rawConviction,
				RawScore:      rawScore,
				RawConviction: rawConviction,
				Bias:          models.BiasNeutral,
				BiasStreak:    0,
				LastUpdateAt:  now,
			},
			lastRawBias: biasOf(rawScore),
		}
		e.signals[symbol] = s
		return s.SymbolSignal
	}

	force := now.Sub(s.LastUpdateAt) >= e.cfg.ForceRefresh

	candScore := s.Score + e.cfg.Alpha*(rawScore-s.Score)
	candConv := s.Conviction + e.cfg.Alpha*(rawConviction-s.Conviction)

	acceptScore := abs(candScore-s.Score) >= e.cfg.ScoreDeadband || force
	acceptConv := abs(candConv-s.Conviction) >= e.cfg.ConvictionDeadband || force

	// An exact replay of the previous raw reading that the deadband already
	// suppressed carries no new information; counting it again would let a
	// duplicated frame double-count a trend.
	duplicate := rawScore == s.RawScore && rawConviction == s.RawConviction &&
		!acceptScore && !acceptConv

	s.RawScore = rawScore
	s.RawConviction = rawConviction

	if acceptScore {
		s.Score = clamp(candScore, scoreMin, scoreMax)
	}
	if acceptConv {
		s.Conviction = clamp(candConv, convMin, convMax)
	}
	if acceptScore || acceptConv {
		s.LastUpdateAt = now
	}

	if duplicate {
		return s.SymbolSignal
	}

	rawBias := biasOf(s.Score)
	if rawBias == s.lastRawBias {
		s.BiasStreak++
	} else {
		s.BiasStreak = 1
	}
	s.lastRawBias = rawBias

	if s.BiasStreak >= e.cfg.BiasStreak && rawBias != s.Bias {
		prev := s.Bias
		s.Bias = rawBias
		s.LastBiasChangeAt = now
		metrics.BiasFlips.WithLabelValues(symbol).Inc()
		e.log.WithFields(map[string]interface{}{
			"symbol": symbol,
			"from":   prev,
			"to":     rawBias,
			"score":  s.Score,
			"streak": s.BiasStreak,
		}).Info("bias flip")
	}

	return s.SymbolSignal
}

// Snapshot returns a copy of the symbol's current state.
func (e *Engine) Snapshot(symbol string) (models.SymbolSignal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.signals[strings.ToUpper(symbol)]
	if !ok {
		return models.SymbolSignal{}, false
	}
	return s.SymbolSignal, true
}

// All returns snapshots for every tracked symbol.
func (e *Engine) All() []models.SymbolSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.SymbolSignal, 0, len(e.signals))
	for _, s := range e.signals {
		out = append(out, s.SymbolSignal)
	}
	return out
}

func biasOf(score float64) models.Bias {
	switch {
	case score >= longThreshold:
		return models.BiasLong
	case score <= shortThreshold:
		return models.BiasShort
	default:
		return models.BiasNeutral
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
