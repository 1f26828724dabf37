package execution

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind separates spot and perpetual swap instruments.
type Kind string

const (
	KindSpot Kind = "spot"
	KindSwap Kind = "swap"
)

// Instrument is read-only reference data for a tradable pair.
type Instrument struct {
	ID          string  `yaml:"id"`
	Base        string  `yaml:"base"`
	Quote       string  `yaml:"quote"`
	Kind        Kind    `yaml:"kind"`
	LotSize     float64 `yaml:"lot_size"`
	MinNotional float64 `yaml:"min_notional"`
	CtVal       float64 `yaml:"ct_val"` // base units per swap contract
}

// ParseInstrument derives reference data from an OKX style id such as BTC-USDT or BTC-USDT-SWAP.
func ParseInstrument(id string) Instrument {
	inst := Instrument{ID: id, Kind: KindSpot}
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(id)), "-")
	if len(parts) >= 2 {
		inst.Base, inst.Quote = parts[0], parts[1]
	}
	if len(parts) >= 3 && (parts[2] == "SWAP" || parts[2] == "PERP") {
		inst.Kind = KindSwap
	}
	return inst
}

// DefaultTradeMode returns the account context orders on this instrument use.
func (i Instrument) DefaultTradeMode() TradeMode {
	if i.Kind == KindSwap {
		return ModeSwap
	}
	return ModeCash
}

// RoundQty floors qty to the lot size. Quantities are returned unchanged when no lot size is set.
func (i Instrument) RoundQty(qty float64) float64 {
	if i.LotSize <= 0 || qty <= 0 {
		return qty
	}
	lot := decimal.NewFromFloat(i.LotSize)
	lots := decimal.NewFromFloat(qty).Div(lot).Floor()
	return lots.Mul(lot).InexactFloat64()
}

// Instruments is a lookup table keyed by instrument id.
type Instruments map[string]Instrument

// NewInstruments builds a registry, filling gaps from the id itself.
func NewInstruments(list []Instrument) Instruments {
	reg := make(Instruments, len(list))
	for _, inst := range list {
		parsed := ParseInstrument(inst.ID)
		if inst.Base == "" {
			inst.Base = parsed.Base
		}
		if inst.Quote == "" {
			inst.Quote = parsed.Quote
		}
		if inst.Kind == "" {
			inst.Kind = parsed.Kind
		}
		reg[inst.ID] = inst
	}
	return reg
}

// Lookup returns the registered instrument, or one parsed from the id.
func (r Instruments) Lookup(id string) Instrument {
	if inst, ok := r[id]; ok {
		return inst
	}
	return ParseInstrument(id)
}
