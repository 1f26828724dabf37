package exchange

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"quantbot-go/internal/execution"
)

type placeOrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
	ClOrdID string `json:"clOrdId,omitempty"`
	TgtCcy  string `json:"tgtCcy,omitempty"`
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderDetail struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
	FeeCcy    string `json:"feeCcy"`
	UTime     string `json:"uTime"`
}

// tdMode maps a trade mode onto the OKX tdMode field.
func tdMode(order execution.Order) string {
	mode := order.TradeMode
	if mode == "" {
		mode = execution.ParseInstrument(order.InstrumentID).DefaultTradeMode()
	}
	switch mode {
	case execution.ModeMargin:
		return "cross"
	case execution.ModeSwap:
		return "isolated"
	default:
		return "cash"
	}
}

// codeDuplicateClOrdID is returned when a client order id was already used, e.g. by a
// placement whose response was lost and then retried.
const codeDuplicateClOrdID = "51016"

// newPlaceOrderRequest builds the order body. ctVal converts base quantities into swap
// contracts; spot passes 1.
func newPlaceOrderRequest(order execution.Order, ctVal float64) (placeOrderRequest, error) {
	if !order.Side.Valid() {
		return placeOrderRequest{}, fmt.Errorf("invalid side %q", order.Side)
	}
	if order.Qty <= 0 {
		return placeOrderRequest{}, fmt.Errorf("invalid quantity %v", order.Qty)
	}
	req := placeOrderRequest{
		InstID:  order.InstrumentID,
		TdMode:  tdMode(order),
		Side:    string(order.Side),
		OrdType: string(execution.Market),
		Sz:      toContracts(order.Qty, ctVal),
		ClOrdID: order.ClientOrderID,
	}
	if order.Type == execution.Limit {
		if order.Price <= 0 {
			return placeOrderRequest{}, fmt.Errorf("limit order without price")
		}
		req.OrdType = string(execution.Limit)
		req.Px = decimal.NewFromFloat(order.Price).String()
	}
	// Spot market orders size in quote currency by default; quantities here are base units.
	if req.TdMode == "cash" && req.OrdType == string(execution.Market) {
		req.TgtCcy = "base_ccy"
	}
	return req, nil
}

// PlaceOrder submits an order and returns the venue order id.
func (c *Client) PlaceOrder(ctx context.Context, order execution.Order) (string, error) {
	ctVal, err := c.contractValue(ctx, order.InstrumentID)
	if err != nil {
		return "", err
	}
	body, err := newPlaceOrderRequest(order, ctVal)
	if err != nil {
		return "", fmt.Errorf("trade/order: %w", err)
	}
	var acks []orderAck
	err = c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true, &acks)
	if err == nil {
		switch {
		case len(acks) == 0:
			err = fmt.Errorf("trade/order: empty response")
		case acks[0].SCode != "" && acks[0].SCode != "0":
			err = fmt.Errorf("trade/order: %w", &APIError{HTTPStatus: http.StatusOK, Code: acks[0].SCode, Msg: acks[0].SMsg})
		}
	}
	if IsAPIError(err, codeDuplicateClOrdID) && order.ClientOrderID != "" {
		return c.adoptOrder(ctx, order)
	}
	if err != nil {
		return "", err
	}
	return acks[0].OrdID, nil
}

// adoptOrder resolves the venue id of an order already placed under order's client id.
func (c *Client) adoptOrder(ctx context.Context, order execution.Order) (string, error) {
	q := url.Values{}
	q.Set("instId", order.InstrumentID)
	q.Set("clOrdId", order.ClientOrderID)
	var details []orderDetail
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, true, &details); err != nil {
		return "", fmt.Errorf("adopt %s: %w", order.ClientOrderID, err)
	}
	if len(details) == 0 || details[0].OrdID == "" {
		return "", fmt.Errorf("adopt %s: %w", order.ClientOrderID, execution.ErrUnknownOrder)
	}
	c.log.Warn().Str("sym", order.InstrumentID).Str("cl_ord_id", order.ClientOrderID).
		Str("order_id", details[0].OrdID).Msg("client order id already placed, adopting existing order")
	return details[0].OrdID, nil
}

// GetOrder fetches the cumulative state of an order.
func (c *Client) GetOrder(ctx context.Context, instrumentID, orderID string) (execution.OrderStatus, error) {
	q := url.Values{}
	q.Set("instId", instrumentID)
	q.Set("ordId", orderID)
	var details []orderDetail
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, true, &details); err != nil {
		return execution.OrderStatus{}, err
	}
	if len(details) == 0 {
		return execution.OrderStatus{}, fmt.Errorf("trade/order %s: %w", orderID, execution.ErrUnknownOrder)
	}
	ctVal, err := c.contractValue(ctx, instrumentID)
	if err != nil {
		return execution.OrderStatus{}, err
	}
	return details[0].status(ctVal)
}

// status converts the venue view into base units with the fee charged in the quote currency.
func (d orderDetail) status(ctVal float64) (execution.OrderStatus, error) {
	state, err := orderState(d.State)
	if err != nil {
		return execution.OrderStatus{}, err
	}
	side, err := execution.ParseSide(d.Side)
	if err != nil {
		return execution.OrderStatus{}, err
	}
	filled, err := parseNumber(d.AccFillSz)
	if err != nil {
		return execution.OrderStatus{}, fmt.Errorf("accFillSz: %w", err)
	}
	avg, err := parseNumber(d.AvgPx)
	if err != nil {
		return execution.OrderStatus{}, fmt.Errorf("avgPx: %w", err)
	}
	fee, err := parseNumber(d.Fee)
	if err != nil {
		return execution.OrderStatus{}, fmt.Errorf("fee: %w", err)
	}
	if ctVal > 0 {
		filled *= ctVal
	}
	// OKX reports charged fees as negative amounts; rebates are not credited.
	cost := math.Max(0, -fee)
	inst := execution.ParseInstrument(d.InstID)
	if inst.Kind == execution.KindSpot && d.FeeCcy != "" && d.FeeCcy == inst.Base {
		// spot buys pay the fee out of the bought coin: book the net quantity and
		// the fee's quote value so cash still moves by the gross notional
		filled = math.Max(0, filled-cost)
		cost *= avg
	}
	st := execution.OrderStatus{
		OrderID:      d.OrdID,
		InstrumentID: d.InstID,
		Side:         side,
		State:        state,
		FilledQty:    filled,
		AvgPrice:     avg,
		Fee:          cost,
	}
	if ms, err := strconv.ParseInt(d.UTime, 10, 64); err == nil && ms > 0 {
		st.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return st, nil
}

func orderState(raw string) (execution.OrderState, error) {
	switch raw {
	case "live":
		return execution.StateLive, nil
	case "partially_filled":
		return execution.StatePartiallyFilled, nil
	case "filled":
		return execution.StateFilled, nil
	case "canceled", "mmp_canceled":
		return execution.StateCanceled, nil
	}
	return "", fmt.Errorf("unknown okx order state %q", raw)
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, instrumentID, orderID string) error {
	body := map[string]string{"instId": instrumentID, "ordId": orderID}
	var acks []orderAck
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true, &acks); err != nil {
		return err
	}
	if len(acks) > 0 && acks[0].SCode != "" && acks[0].SCode != "0" {
		return fmt.Errorf("trade/cancel-order: %w", &APIError{HTTPStatus: http.StatusOK, Code: acks[0].SCode, Msg: acks[0].SMsg})
	}
	return nil
}

// parseNumber treats an empty string as zero, as OKX does for unfilled orders.
func parseNumber(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
