package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Order type codes on the wire.
const (
	OrderOpenLong   = 1
	OrderOpenShort  = 2
	OrderCloseLong  = 3
	OrderCloseShort = 4
)

// Execution style codes (order_type field).
const (
	ExecNormal   = 0
	ExecPostOnly = 1
	ExecFOK      = 2
	ExecIOC      = 3
)

// Match price codes.
const (
	MatchLimit  = 0
	MatchMarket = 1
)

// MaxClientOIDLength is the exchange's client order id limit.
const MaxClientOIDLength = 40

// Order is the wire shape of a futures order. Size and Price are already
// step/tick-rounded strings; see Contract.FormatSize / FormatPrice.
type Order struct {
	Symbol                string `json:"symbol"`
	Type                  int    `json:"type"`
	OrderType             int    `json:"order_type"`
	MatchPrice            int    `json:"match_price"`
	Size                  string `json:"size"`
	Price                 string `json:"price"`
	ClientOID             string `json:"client_oid"`
	PresetTakeProfitPrice string `json:"presetTakeProfitPrice,omitempty"`
	PresetStopLossPrice   string `json:"presetStopLossPrice,omitempty"`
}

// Validate fail-fast checks every order field against the contract before
// the order may reach the wire.
func (o *Order) Validate(contract Contract) error {
	if !ValidSymbol(o.Symbol) {
		return &ValidationError{Field: "symbol", Message: fmt.Sprintf("%q does not match cmt_*usdt", o.Symbol)}
	}

	if o.Type < OrderOpenLong || o.Type > OrderCloseShort {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("%d not in 1..4", o.Type)}
	}
	if o.OrderType < ExecNormal || o.OrderType > ExecIOC {
		return &ValidationError{Field: "order_type", Message: fmt.Sprintf("%d not in 0..3", o.OrderType)}
	}
	if o.MatchPrice != MatchLimit && o.MatchPrice != MatchMarket {
		return &ValidationError{Field: "match_price", Message: fmt.Sprintf("%d not in {0,1}", o.MatchPrice)}
	}

	size, err := decimal.NewFromString(o.Size)
	if err != nil || !size.IsPositive() {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("%q is not a positive number", o.Size)}
	}
	if min := contract.MinOrderSize(); min.IsPositive() && size.LessThan(min) {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("%s below contract minimum %s", size, min)}
	}
	if step := contract.StepSize(); !size.Mod(step).IsZero() {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("%s is not a multiple of step %s", size, step)}
	}

	price, err := decimal.NewFromString(o.Price)
	if err != nil || !price.IsPositive() {
		return &ValidationError{Field: "price", Message: fmt.Sprintf("%q is not a positive number", o.Price)}
	}
	if tick := contract.TickSize(); !price.Mod(tick).IsZero() {
		return &ValidationError{Field: "price", Message: fmt.Sprintf("%s is not a multiple of tick %s", price, tick)}
	}

	if len(o.ClientOID) > MaxClientOIDLength {
		return &ValidationError{Field: "client_oid", Message: fmt.Sprintf("length %d exceeds %d", len(o.ClientOID), MaxClientOIDLength)}
	}

	for field, v := range map[string]string{
		"presetTakeProfitPrice": o.PresetTakeProfitPrice,
		"presetStopLossPrice":   o.PresetStopLossPrice,
	} {
		if v == "" {
			continue
		}
		if p, err := decimal.NewFromString(v); err != nil || !p.IsPositive() {
			return &ValidationError{Field: field, Message: fmt.Sprintf("%q is not a positive number", v)}
		}
	}

	return nil
}

// ClampLeverage bounds leverage to [1, contract cap].
func ClampLeverage(leverage int, contract Contract) int {
	if leverage < 1 {
		return 1
	}
	if cap := contract.LeverageCap(); leverage > cap {
		return cap
	}
	return leverage
}
