package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/portfolio"
)

func TestAllow(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 50}
	if !limits.Allow(49.9) {
		t.Fatalf("expected notional under limit to pass")
	}
	if limits.Allow(50.1) {
		t.Fatalf("expected notional above limit to fail")
	}
}

func snapshotWith(cash float64) portfolio.Snapshot {
	return portfolio.New(map[string]float64{"USDT": cash}, nil).Snapshot()
}

func TestCheckRejections(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 100, FeeRate: 0.001}
	inst := execution.Instrument{ID: "BTC-USDT", Quote: "USDT", MinNotional: 5}
	snap := snapshotWith(60)

	cases := []struct {
		name  string
		order execution.Order
		ref   float64
		ok    bool
	}{
		{"allowed", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Buy, Qty: 0.5, Type: execution.Market}, 100, true},
		{"zero qty", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Buy, Qty: 0}, 100, false},
		{"no price", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Buy, Qty: 0.1}, 0, false},
		{"over max", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Sell, Qty: 2}, 100, false},
		{"under min", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Sell, Qty: 0.01}, 100, false},
		{"cash short", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Buy, Qty: 0.6}, 100, false},
		{"sell needs no cash", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Sell, Qty: 0.9}, 100, true},
		{"limit uses own price", execution.Order{InstrumentID: "BTC-USDT", Side: execution.Buy, Qty: 0.5, Type: execution.Limit, Price: 150}, 100, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := limits.Check(tc.order, snap, inst, tc.ref)
			require.Equal(t, tc.ok, d.Allowed, d.Reason)
			if !tc.ok {
				require.NotEmpty(t, d.Reason)
			}
		})
	}
}

// Random buy/sell sequences that pass Check never drive cash negative once filled.
func TestCashNeverNegativeUnderRisk(t *testing.T) {
	const fee = 0.001
	limits := Limits{MaxNotionalPerTrade: 400, FeeRate: fee}
	inst := execution.Instrument{ID: "BTC-USDT", Quote: "USDT"}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		p := portfolio.New(map[string]float64{"USDT": 1000}, nil)
		for step := 0; step < 200; step++ {
			px := 50 + rng.Float64()*100
			side := execution.Buy
			qty := rng.Float64() * 6
			if rng.Intn(2) == 0 {
				side = execution.Sell
				held := p.PositionFor(inst.ID).Qty
				if held <= 0 {
					continue
				}
				qty = held * rng.Float64()
			}
			order := execution.Order{InstrumentID: inst.ID, Side: side, Qty: qty, Type: execution.Market}
			if d := limits.Check(order, p.Snapshot(), inst, px); !d.Allowed {
				continue
			}
			f := execution.Fill{OrderRef: "r", InstrumentID: inst.ID, Side: side, Qty: qty, Price: px, Fee: qty * px * fee}
			require.NoError(t, p.ApplyFill(f))
			require.GreaterOrEqual(t, p.Cash("USDT"), -1e-9, "run %d step %d", run, step)
		}
	}
}
