package models

import "time"

type Side string
type Bias string
type TimeInForce string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	BiasLong    Bias = "LONG"
	BiasShort   Bias = "SHORT"
	BiasNeutral Bias = "NEUTRAL"

	TIFImmediateOrCancel TimeInForce = "Ioc"
	TIFGoodTilCancel     TimeInForce = "Gtc"
)

// SymbolSignal is the stabilized per-symbol view produced by the smoothing
// engine. Score and Conviction carry the smoothed values; RawScore and
// RawConviction keep the last unsmoothed reading for display. Bias only moves
// after enough consecutive raw agreements, so readers can trust it not to
// flicker around the long/short boundary.
type SymbolSignal struct {
	Symbol           string    `json:"symbol"`
	Score            float64   `json:"score"`
	Conviction       float64   `json:"conviction"`
	RawScore         float64   `json:"raw_score"`
	RawConviction    float64   `json:"raw_conviction"`
	Bias             Bias      `json:"bias"`
	BiasStreak       int       `json:"bias_streak"`
	LastBiasChangeAt time.Time `json:"last_bias_change_at"`
	LastUpdateAt     time.Time `json:"last_update_at"`
}

// ExecutionPlan arrives over the stream and describes how upstream wants a
// position worked. Direction may be empty, in which case the execution gate
// falls back to the symbol's stabilized bias.
type ExecutionPlan struct {
	Symbol       string    `json:"symbol"`
	Direction    Side      `json:"direction,omitempty"`
	Strategy     string    `json:"strategy"`
	TotalSizeUSD float64   `json:"total_size_usd"`
	UrgencyScore float64   `json:"urgency_score"`
	Slices       []Slice   `json:"slices,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Slice struct {
	SizeUSD        float64 `json:"size_usd"`
	PriceOffsetBps float64 `json:"price_offset_bps"`
	DelayMS        int64   `json:"delay_ms"`
}

// Age is measured against the plan's creation stamp, which the cache fills
// from local receipt time when the payload omits it.
func (p ExecutionPlan) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

func (p ExecutionPlan) Stale(now time.Time, ttl time.Duration) bool {
	return p.Age(now) > ttl
}

// Order is the internal representation handed to the venue client, which
// converts it into the signed wire envelope.
type Order struct {
	Symbol      string      `json:"symbol"`
	AssetID     int         `json:"asset_id"`
	Side        Side        `json:"side"`
	LimitPrice  float64     `json:"limit_price"`
	Size        float64     `json:"size"`
	ReduceOnly  bool        `json:"reduce_only"`
	TimeInForce TimeInForce `json:"time_in_force"`
	ClientID    string      `json:"client_id"`
}
