package venue

import (
	"context"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is the venue-side identity of a tradable symbol. Prices are wired
// with up to maxWireDecimals-SzDecimals decimal places, sizes with
// SzDecimals.
type Asset struct {
	Symbol     string
	ID         int
	SzDecimals int
}

const maxWireDecimals = 6

func (a Asset) PxDecimals() int {
	d := maxWireDecimals - a.SzDecimals
	if d < 0 {
		return 0
	}
	return d
}

// Meta fetches the asset universe and returns it keyed by uppercase symbol.
func (c *Client) Meta(ctx context.Context) (map[string]Asset, error) {
	var resp struct {
		Universe []struct {
			Name       string `json:"name"`
			AssetID    int    `json:"assetId"`
			SzDecimals int    `json:"szDecimals"`
		} `json:"universe"`
	}
	if err := c.doRequest(ctx, "/info", map[string]any{"type": "meta"}, &resp); err != nil {
		return nil, err
	}

	assets := make(map[string]Asset, len(resp.Universe))
	for _, u := range resp.Universe {
		symbol := strings.ToUpper(u.Name)
		assets[symbol] = Asset{
			Symbol:     symbol,
			ID:         u.AssetID,
			SzDecimals: u.SzDecimals,
		}
	}
	return assets, nil
}

// Mids fetches the current mid price per symbol. The venue wires prices as
// fixed-point strings; unparseable or non-positive entries are dropped.
func (c *Client) Mids(ctx context.Context) (map[string]float64, error) {
	var resp map[string]string
	if err := c.doRequest(ctx, "/info", map[string]any{"type": "allMids"}, &resp); err != nil {
		return nil, err
	}

	mids := make(map[string]float64, len(resp))
	for symbol, raw := range resp {
		mid, err := strconv.ParseFloat(raw, 64)
		if err != nil || mid <= 0 {
			continue
		}
		mids[strings.ToUpper(symbol)] = mid
	}
	return mids, nil
}

// AuthorizedAgents lists the agent addresses the venue currently accepts for
// the owner. Implements signing.AgentVerifier.
func (c *Client) AuthorizedAgents(ctx context.Context, owner common.Address) ([]common.Address, error) {
	var resp []struct {
		Address string `json:"address"`
	}
	body := map[string]any{"type": "agents", "user": owner.Hex()}
	if err := c.doRequest(ctx, "/info", body, &resp); err != nil {
		return nil, err
	}

	agents := make([]common.Address, 0, len(resp))
	for _, a := range resp {
		agents = append(agents, common.HexToAddress(a.Address))
	}
	return agents, nil
}
