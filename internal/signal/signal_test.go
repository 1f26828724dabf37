package signal

import "testing"

func TestMidFallsBackToLast(t *testing.T) {
	tk := Tick{InstrumentID: "BTC-USDT", Last: 100}
	if tk.Mid() != 100 {
		t.Fatalf("expected last price, got %.2f", tk.Mid())
	}
	tk.Bid, tk.Ask = 99, 101
	if tk.Mid() != 100 {
		t.Fatalf("expected mid 100, got %.2f", tk.Mid())
	}
	tk.Bid, tk.Ask = 102, 101
	if tk.HasQuote() {
		t.Fatalf("crossed quote must not count as quoted")
	}
}

func TestValid(t *testing.T) {
	if (Tick{Last: 1}).Valid() {
		t.Fatalf("tick without instrument must be invalid")
	}
	if !(Tick{InstrumentID: "ETH-USDT", Last: 1}).Valid() {
		t.Fatalf("expected valid tick")
	}
}
