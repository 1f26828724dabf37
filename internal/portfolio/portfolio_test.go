package portfolio

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"quantbot-go/internal/execution"
)

func fill(inst string, side execution.Side, qty, px, fee float64) execution.Fill {
	return execution.Fill{OrderRef: "o", InstrumentID: inst, Side: side, Qty: qty, Price: px, Fee: fee, Status: execution.FillFull}
}

func TestApplyFillBuySellPnL(t *testing.T) {
	p := New(map[string]float64{"USDT": 1000}, nil)

	if err := p.ApplyFill(fill("BTC-USDT", execution.Buy, 0.5, 1000, 0)); err != nil {
		t.Fatalf("unexpected buy error: %v", err)
	}
	if err := p.ApplyFill(fill("BTC-USDT", execution.Buy, 0.25, 1100, 0)); err != nil {
		t.Fatalf("unexpected second buy error: %v", err)
	}

	pos := p.PositionFor("BTC-USDT")
	if math.Abs(pos.Qty-0.75) > 1e-9 {
		t.Fatalf("expected qty 0.75, got %.4f", pos.Qty)
	}
	wantAvg := (0.5*1000 + 0.25*1100) / 0.75
	if math.Abs(pos.AvgPrice-wantAvg) > 1e-9 {
		t.Fatalf("expected avg %.4f, got %.4f", wantAvg, pos.AvgPrice)
	}
	if math.Abs(p.Cash("USDT")-225) > 1e-9 {
		t.Fatalf("expected 225 cash left, got %.4f", p.Cash("USDT"))
	}

	if err := p.ApplyFill(fill("BTC-USDT", execution.Sell, 0.25, 1200, 0)); err != nil {
		t.Fatalf("unexpected sell error: %v", err)
	}
	if want := (1200 - wantAvg) * 0.25; math.Abs(p.RealizedPnL()-want) > 1e-9 {
		t.Fatalf("expected realized %.4f got %.4f", want, p.RealizedPnL())
	}
	if p.PositionFor("BTC-USDT").AvgPrice != pos.AvgPrice {
		t.Fatalf("reducing a position must keep its average price")
	}
}

func TestApplyFillChargesFeeInQuote(t *testing.T) {
	p := New(map[string]float64{"USDT": 1000}, nil)
	if err := p.ApplyFill(fill("ETH-USDT", execution.Buy, 1, 100, 0.05)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if math.Abs(p.Cash("USDT")-899.95) > 1e-9 {
		t.Fatalf("expected 899.95, got %.4f", p.Cash("USDT"))
	}
	if err := p.ApplyFill(fill("ETH-USDT", execution.Sell, 1, 110, 0.055)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if math.Abs(p.Cash("USDT")-(899.95+110-0.055)) > 1e-9 {
		t.Fatalf("unexpected cash after sell %.4f", p.Cash("USDT"))
	}
	snap := p.Snapshot()
	if math.Abs(snap.Fees()-0.105) > 1e-12 {
		t.Fatalf("expected fees 0.105, got %v", snap.Fees())
	}
	if _, ok := snap.Positions()["ETH-USDT"]; ok {
		t.Fatalf("flat position should be removed")
	}
}

func TestApplyFillSwapShortAndCover(t *testing.T) {
	p := New(map[string]float64{"USDT": 0}, nil)
	if err := p.ApplyFill(fill("BTC-USDT-SWAP", execution.Sell, 2, 100, 0)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	pos := p.PositionFor("BTC-USDT-SWAP")
	if pos.Qty != -2 || pos.AvgPrice != 100 {
		t.Fatalf("unexpected short position %+v", pos)
	}
	if err := p.ApplyFill(fill("BTC-USDT-SWAP", execution.Buy, 1, 90, 0)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if math.Abs(p.RealizedPnL()-10) > 1e-9 {
		t.Fatalf("short covered lower should realize +10, got %.4f", p.RealizedPnL())
	}
}

func TestApplyFillCrossesThroughZero(t *testing.T) {
	p := New(map[string]float64{"USDT": 1000}, nil)
	_ = p.ApplyFill(fill("BTC-USDT-SWAP", execution.Buy, 1, 100, 0))
	if err := p.ApplyFill(fill("BTC-USDT-SWAP", execution.Sell, 3, 120, 0)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	pos := p.PositionFor("BTC-USDT-SWAP")
	if pos.Qty != -2 || pos.AvgPrice != 120 {
		t.Fatalf("flip should open remainder at fill price, got %+v", pos)
	}
	if math.Abs(p.RealizedPnL()-20) > 1e-9 {
		t.Fatalf("expected realized 20 on the closed unit, got %.4f", p.RealizedPnL())
	}
}

func TestApplyFillRejectsInconsistentFill(t *testing.T) {
	cases := []execution.Fill{
		fill("BTC-USDT", execution.Buy, -1, 100, 0),
		fill("BTC-USDT", execution.Buy, math.NaN(), 100, 0),
		fill("BTC-USDT", execution.Buy, 1, 0, 0),
		fill("BTC-USDT", execution.Buy, 1, 100, -1),
		fill("BTC-USDT", execution.Buy, 1, 100, math.Inf(1)),
		fill("BTC-USDT", execution.Buy, 1, math.Inf(1), 0),
		fill("BTC-USDT", execution.Side("hold"), 1, 100, 0),
		fill("", execution.Buy, 1, 100, 0),
	}
	for _, f := range cases {
		p := New(map[string]float64{"USDT": 1000}, nil)
		before := p.Snapshot()
		err := p.ApplyFill(f)
		var inconsistent *InconsistentFillError
		if !errors.As(err, &inconsistent) {
			t.Fatalf("expected InconsistentFillError for %+v, got %v", f, err)
		}
		if !reflect.DeepEqual(before, p.Snapshot()) {
			t.Fatalf("portfolio changed after rejected fill %+v", f)
		}
	}
}

func TestApplyFillZeroQuantityIsNoop(t *testing.T) {
	p := New(map[string]float64{"USDT": 10}, nil)
	if err := p.ApplyFill(execution.Fill{InstrumentID: "BTC-USDT", Side: execution.Buy, Status: execution.FillNone}); err != nil {
		t.Fatalf("zero fill should be accepted: %v", err)
	}
	if p.Cash("USDT") != 10 {
		t.Fatalf("zero fill moved cash")
	}
}

func TestSnapshotIsIdempotentAndDetached(t *testing.T) {
	p := New(map[string]float64{"USDT": 500}, nil)
	_ = p.ApplyFill(fill("BTC-USDT", execution.Buy, 1, 100, 0.1))

	first := p.Snapshot()
	second := p.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots without intervening fills differ")
	}

	first.Positions()["BTC-USDT"] = Position{Qty: 99}
	first.CashBalances()["USDT"] = 0
	if p.PositionFor("BTC-USDT").Qty != 1 || p.Cash("USDT") == 0 {
		t.Fatalf("mutating snapshot copies leaked into portfolio")
	}

	_ = p.ApplyFill(fill("BTC-USDT", execution.Buy, 1, 100, 0))
	if first.PositionFor("BTC-USDT").Qty != 1 {
		t.Fatalf("snapshot observed a later fill")
	}
}

func TestPositionForMissingIsFlat(t *testing.T) {
	p := New(nil, nil)
	pos := p.PositionFor("NOPE-USDT")
	if !pos.Flat() || pos.InstrumentID != "NOPE-USDT" {
		t.Fatalf("expected flat position, got %+v", pos)
	}
}

func TestSnapshotMarks(t *testing.T) {
	p := New(map[string]float64{"USDT": 1000}, nil)
	_ = p.ApplyFill(fill("BTC-USDT", execution.Buy, 1, 100, 0))
	_ = p.ApplyFill(fill("BTC-USDT-SWAP", execution.Sell, 1, 100, 0))
	snap := p.Snapshot()
	marks := map[string]float64{"BTC-USDT": 110, "BTC-USDT-SWAP": 110}
	if got := snap.UnrealizedPnL(marks); math.Abs(got) > 1e-9 {
		t.Fatalf("hedged book should be delta neutral, got %.4f", got)
	}
	if got := snap.Exposure(marks); got != 220 {
		t.Fatalf("expected gross exposure 220, got %.2f", got)
	}
	if got := snap.LongValue(marks); got != 110 {
		t.Fatalf("expected long value 110, got %.2f", got)
	}
}
