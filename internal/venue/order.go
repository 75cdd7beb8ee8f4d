package venue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"quantpilot/internal/models"
	"quantpilot/internal/signing"
)

type orderWire struct {
	Asset      int    `json:"a"`
	IsBuy      bool   `json:"b"`
	LimitPx    string `json:"p"`
	Size       string `json:"s"`
	ReduceOnly bool   `json:"r"`
	TIF        string `json:"t"`
	ClientID   string `json:"c,omitempty"`
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []orderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type orderEnvelope struct {
	Action    json.RawMessage   `json:"action"`
	Nonce     int64             `json:"nonce"`
	Signature signing.Signature `json:"signature"`
}

type orderResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Response *struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"response,omitempty"`
}

// SubmitOrder wires the order into a signed action envelope and posts it to
// the venue's order endpoint. The context bounds the whole round trip.
func (c *Client) SubmitOrder(ctx context.Context, order models.Order, asset Asset, session *signing.Session) error {
	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      asset.ID,
			IsBuy:      order.Side == models.SideBuy,
			LimitPx:    fixedPoint(order.LimitPrice, asset.PxDecimals()),
			Size:       fixedPoint(order.Size, asset.SzDecimals),
			ReduceOnly: order.ReduceOnly,
			TIF:        string(order.TimeInForce),
			ClientID:   order.ClientID,
		}},
		Grouping: "na",
	}

	actionJSON, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal order action: %w", err)
	}

	nonce := session.NextNonce()
	sig, err := session.SignAction(actionJSON, nonce)
	if err != nil {
		return err
	}

	envelope := orderEnvelope{
		Action:    actionJSON,
		Nonce:     nonce,
		Signature: sig,
	}

	var resp orderResponse
	if err := c.doRequest(ctx, "/exchange", envelope, &resp); err != nil {
		return err
	}
	if reason, ok := submitAccepted(resp); !ok {
		return fmt.Errorf("order rejected: %s", reason)
	}
	return nil
}

// submitAccepted is the canonical success contract with the venue: an error
// field always means failure; otherwise an explicit ok/success status or an
// order-shaped nested response counts as acceptance. Anything else fails.
func submitAccepted(resp orderResponse) (string, bool) {
	if resp.Error != "" {
		return resp.Error, false
	}
	switch resp.Status {
	case "ok", "success":
		return "", true
	}
	if resp.Response != nil && (resp.Response.Type == "order" || resp.Response.Type == "default") {
		return "", true
	}
	if resp.Status == "" {
		return "unrecognized response shape", false
	}
	return fmt.Sprintf("status %q", resp.Status), false
}

func fixedPoint(v float64, decimals int) string {
	return decimal.NewFromFloat(v).Round(int32(decimals)).String()
}
