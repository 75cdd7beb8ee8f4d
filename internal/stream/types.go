package stream

import "encoding/json"

type MessageKind string

const (
	KindMarket     MessageKind = "market"
	KindSignal     MessageKind = "signal"
	KindRisk       MessageKind = "risk"
	KindGovernance MessageKind = "governance"
	KindPlan       MessageKind = "plan"
	KindLog        MessageKind = "log"
)

// Envelope is the outer shape of every inbound feed message. Unknown Type
// values are ignored, not fatal.
type Envelope struct {
	Type MessageKind     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler consumes the data payload of one message kind. Handlers run on the
// read loop goroutine, strictly in arrival order.
type Handler func(data json.RawMessage)

type subscribeRequest struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

// SignalUpdate is the payload of a conviction/signal message.
type SignalUpdate struct {
	Symbol     string  `json:"symbol"`
	Score      float64 `json:"score"`
	Conviction float64 `json:"conviction"`
}

// MarketUpdate is the payload of an aggregated market message.
type MarketUpdate struct {
	Symbol string  `json:"symbol"`
	Mid    float64 `json:"mid"`
	Last   float64 `json:"last"`
}

// LogLine is the payload of a free-form log message.
type LogLine struct {
	Message string `json:"message"`
}
