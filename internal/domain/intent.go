package domain

import (
	"encoding/json"
	"fmt"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v := Side(raw)
	if !v.Valid() {
		return fmt.Errorf("invalid side %q (want buy|sell)", raw)
	}
	*s = v
	return nil
}

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

func (o OrderType) Valid() bool {
	return o == OrderTypeMarket || o == OrderTypeLimit
}

func (o *OrderType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v := OrderType(raw)
	if !v.Valid() {
		return fmt.Errorf("invalid order_type %q (want market|limit)", raw)
	}
	*o = v
	return nil
}

// AssetClass is the instrument's asset class.
type AssetClass string

const (
	AssetEquity  AssetClass = "equity"
	AssetCrypto  AssetClass = "crypto"
	AssetFX      AssetClass = "fx"
	AssetFutures AssetClass = "futures"
)

func (a AssetClass) Valid() bool {
	switch a {
	case AssetEquity, AssetCrypto, AssetFX, AssetFutures:
		return true
	}
	return false
}

func (a *AssetClass) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v := AssetClass(raw)
	if !v.Valid() {
		return fmt.Errorf("invalid asset_class %q (want equity|crypto|fx|futures)", raw)
	}
	*a = v
	return nil
}

// Instrument identifies a tradable instrument.
type Instrument struct {
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
}

func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("instrument symbol must be non-empty")
	}
	if !i.AssetClass.Valid() {
		return fmt.Errorf("invalid asset_class %q", string(i.AssetClass))
	}
	return nil
}

// OrderIntent is a candidate order before governance. Timestamps are
// RFC 3339 UTC strings.
type OrderIntent struct {
	IntentID   string     `json:"intent_id"`
	Timestamp  string     `json:"timestamp"`
	StrategyID string     `json:"strategy_id"`
	AccountID  string     `json:"account_id"`
	Instrument Instrument `json:"instrument"`
	Side       Side       `json:"side"`
	OrderType  OrderType  `json:"order_type"`
	Qty        float64    `json:"qty"`
	LimitPrice *float64   `json:"limit_price,omitempty"`
}

func (o *OrderIntent) Validate() error {
	if o.IntentID == "" {
		return fmt.Errorf("intent_id must be non-empty")
	}
	if o.Timestamp == "" {
		return fmt.Errorf("timestamp must be non-empty")
	}
	if err := o.Instrument.Validate(); err != nil {
		return err
	}
	if !o.Side.Valid() {
		return fmt.Errorf("invalid side %q", string(o.Side))
	}
	if !o.OrderType.Valid() {
		return fmt.Errorf("invalid order_type %q", string(o.OrderType))
	}
	if o.Qty <= 0 {
		return fmt.Errorf("qty must be > 0, got %v", o.Qty)
	}
	if o.LimitPrice != nil && *o.LimitPrice < 0 {
		return fmt.Errorf("limit_price must be >= 0, got %v", *o.LimitPrice)
	}
	if o.OrderType == OrderTypeLimit && o.LimitPrice == nil {
		return fmt.Errorf("limit order %s requires a limit_price", o.IntentID)
	}
	return nil
}

// Clone returns a deep copy of the intent.
func (o *OrderIntent) Clone() OrderIntent {
	out := *o
	if o.LimitPrice != nil {
		lp := *o.LimitPrice
		out.LimitPrice = &lp
	}
	return out
}

// WithQty returns a copy of the intent with a replaced quantity. Used to
// build the reduced intent attached to MODIFY decisions.
func (o *OrderIntent) WithQty(qty float64) OrderIntent {
	out := o.Clone()
	out.Qty = qty
	return out
}
