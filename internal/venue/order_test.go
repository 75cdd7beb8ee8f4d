package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantpilot/internal/logger"
	"quantpilot/internal/models"
	"quantpilot/internal/signing"
)

const testAgentKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testSession(t *testing.T) *signing.Session {
	t.Helper()
	s, err := signing.New(testAgentKey, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", logger.Discard())
	require.NoError(t, err)
	return s
}

func TestSubmitAcceptedContract(t *testing.T) {
	cases := []struct {
		name string
		resp orderResponse
		ok   bool
	}{
		{"explicit ok", orderResponse{Status: "ok"}, true},
		{"explicit success", orderResponse{Status: "success"}, true},
		{"nested order response", orderResponse{Response: &struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{Type: "order"}}, true},
		{"nested default response", orderResponse{Response: &struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{Type: "default"}}, true},
		{"error field always fails", orderResponse{Status: "ok", Error: "insufficient margin"}, false},
		{"unknown status", orderResponse{Status: "queued"}, false},
		{"empty shape", orderResponse{}, false},
		{"unknown nested type", orderResponse{Response: &struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{Type: "mystery"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := submitAccepted(tc.resp)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestFixedPointWireFormat(t *testing.T) {
	assert.Equal(t, "123.46", fixedPoint(123.456789, 2))
	assert.Equal(t, "0.001", fixedPoint(0.001, 3))
	assert.Equal(t, "64000", fixedPoint(64000.0, 0))
}

func TestSubmitOrderSignsAndPosts(t *testing.T) {
	var captured orderEnvelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order"}}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "token-123", logger.Discard())
	session := testSession(t)

	order := models.Order{
		Symbol:      "BTC",
		Side:        models.SideBuy,
		LimitPrice:  64640.005,
		Size:        0.0123456,
		TimeInForce: models.TIFImmediateOrCancel,
		ClientID:    "cid-1",
	}
	asset := Asset{Symbol: "BTC", ID: 3, SzDecimals: 4}

	err := client.SubmitOrder(context.Background(), order, asset, session)
	require.NoError(t, err)

	assert.Greater(t, captured.Nonce, int64(0))
	assert.NotEmpty(t, captured.Signature.R)

	var action orderAction
	require.NoError(t, json.Unmarshal(captured.Action, &action))
	require.Len(t, action.Orders, 1)
	assert.Equal(t, "order", action.Type)
	assert.Equal(t, "na", action.Grouping)

	wire := action.Orders[0]
	assert.Equal(t, 3, wire.Asset)
	assert.True(t, wire.IsBuy)
	assert.Equal(t, "64640.01", wire.LimitPx) // 6-4 px decimals
	assert.Equal(t, "0.0123", wire.Size)
	assert.Equal(t, "Ioc", wire.TIF)
}

func TestSubmitOrderRejectionIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","error":"insufficient margin"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "token", logger.Discard())
	err := client.SubmitOrder(context.Background(), models.Order{Side: models.SideSell}, Asset{}, testSession(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestSubmitOrderHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(srv.URL, "token", logger.Discard())
	err := client.SubmitOrder(context.Background(), models.Order{Side: models.SideBuy}, Asset{}, testSession(t))
	assert.Error(t, err)
}

func TestMetaAndMidsParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req["type"] {
		case "meta":
			_, _ = w.Write([]byte(`{"universe":[{"name":"btc","assetId":0,"szDecimals":4},{"name":"ETH","assetId":1,"szDecimals":3}]}`))
		case "allMids":
			_, _ = w.Write([]byte(`{"BTC":"64000.5","ETH":"-1","SOL":"garbage"}`))
		}
	}))
	defer srv.Close()

	client := New(srv.URL, "", logger.Discard())

	assets, err := client.Meta(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, 0, assets["BTC"].ID)
	assert.Equal(t, 2, assets["BTC"].PxDecimals())

	mids, err := client.Mids(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 64000.5}, mids)
}
