package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"quantbot-go/internal/execution"
)

// Position is an open derivatives position in base units. Shorts are negative.
type Position struct {
	InstrumentID string
	Qty          float64
	AvgPrice     float64
}

type positionData struct {
	InstID  string `json:"instId"`
	Pos     string `json:"pos"`
	PosSide string `json:"posSide"`
	AvgPx   string `json:"avgPx"`
}

// Positions returns the open swap positions for ids. Flat instruments are omitted.
func (c *Client) Positions(ctx context.Context, ids []string) ([]Position, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", strings.Join(ids, ","))
	var data []positionData
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", q, nil, true, &data); err != nil {
		return nil, err
	}

	out := make([]Position, 0, len(data))
	for _, d := range data {
		contracts, err := parseNumber(d.Pos)
		if err != nil {
			return nil, fmt.Errorf("positions %s pos: %w", d.InstID, err)
		}
		if contracts == 0 {
			continue
		}
		avg, err := parseNumber(d.AvgPx)
		if err != nil {
			return nil, fmt.Errorf("positions %s avgPx: %w", d.InstID, err)
		}
		ctVal, err := c.contractValue(ctx, d.InstID)
		if err != nil {
			return nil, err
		}
		qty := contracts * ctVal
		// long/short mode reports a positive size and the side separately; net mode signs pos
		switch d.PosSide {
		case "short":
			qty = -abs(qty)
		case "long":
			qty = abs(qty)
		}
		out = append(out, Position{InstrumentID: d.InstID, Qty: qty, AvgPrice: avg})
	}
	return out, nil
}

// ContractValue returns the base units one contract of instrumentID represents.
// Spot instruments trade in base units and report 1.
func (c *Client) ContractValue(ctx context.Context, instrumentID string) (float64, error) {
	return c.contractValue(ctx, instrumentID)
}

func (c *Client) contractValue(ctx context.Context, instrumentID string) (float64, error) {
	if execution.ParseInstrument(instrumentID).Kind != execution.KindSwap {
		return 1, nil
	}
	c.mu.Lock()
	v, ok := c.ctVals[instrumentID]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", instrumentID)
	var data []struct {
		InstID string `json:"instId"`
		CtVal  string `json:"ctVal"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments", q, nil, false, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("public/instruments %s: empty response", instrumentID)
	}
	v, err := parseNumber(data[0].CtVal)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("public/instruments %s: bad ctVal %q", instrumentID, data[0].CtVal)
	}
	c.mu.Lock()
	c.ctVals[instrumentID] = v
	c.mu.Unlock()
	c.log.Info().Str("sym", instrumentID).Float64("ct_val", v).Msg("contract value loaded")
	return v, nil
}

// toContracts converts a base quantity into an exact contract count string.
func toContracts(qty, ctVal float64) string {
	if ctVal <= 0 || ctVal == 1 {
		return decimal.NewFromFloat(qty).String()
	}
	return decimal.NewFromFloat(qty).Div(decimal.NewFromFloat(ctVal)).Truncate(8).String()
}
