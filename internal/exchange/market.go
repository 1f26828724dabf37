package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quantbot-go/internal/signal"
)

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Ts     string `json:"ts"`
}

func (d tickerData) tick() (signal.Tick, error) {
	last, err := parseNumber(d.Last)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("last: %w", err)
	}
	bid, err := parseNumber(d.BidPx)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("bidPx: %w", err)
	}
	ask, err := parseNumber(d.AskPx)
	if err != nil {
		return signal.Tick{}, fmt.Errorf("askPx: %w", err)
	}
	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil && ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	return signal.Tick{InstrumentID: d.InstID, Ts: ts, Last: last, Bid: bid, Ask: ask}, nil
}

// Ticker returns the latest ticker for one instrument.
func (c *Client) Ticker(ctx context.Context, instrumentID string) (signal.Tick, error) {
	q := url.Values{}
	q.Set("instId", instrumentID)
	var data []tickerData
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker", q, nil, false, &data); err != nil {
		return signal.Tick{}, err
	}
	if len(data) == 0 {
		return signal.Tick{}, fmt.Errorf("market/ticker %s: empty response", instrumentID)
	}
	return data[0].tick()
}

// FundingRate returns the current funding rate of a perpetual swap, e.g. 0.0001 for 0.01%.
func (c *Client) FundingRate(ctx context.Context, instrumentID string) (float64, error) {
	q := url.Values{}
	q.Set("instId", instrumentID)
	var data []struct {
		InstID      string `json:"instId"`
		FundingRate string `json:"fundingRate"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/public/funding-rate", q, nil, false, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("public/funding-rate %s: empty response", instrumentID)
	}
	return parseNumber(data[0].FundingRate)
}

// Balance returns the available balance of one currency in the trading account.
func (c *Client) Balance(ctx context.Context, ccy string) (float64, error) {
	q := url.Values{}
	q.Set("ccy", ccy)
	var data []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", q, nil, true, &data); err != nil {
		return 0, err
	}
	for _, acct := range data {
		for _, d := range acct.Details {
			if d.Ccy == ccy {
				return parseNumber(d.AvailBal)
			}
		}
	}
	return 0, nil
}
