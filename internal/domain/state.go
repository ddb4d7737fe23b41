package domain

import (
	"encoding/json"
	"fmt"
)

// MarketSnapshot maps symbols to last prices at a point in time. A missing
// or non-positive price for an evaluated symbol is a fail-closed condition
// handled by the evaluator, not rejected here.
type MarketSnapshot struct {
	Timestamp string             `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
}

func (m *MarketSnapshot) Validate() error {
	if m.Timestamp == "" {
		return fmt.Errorf("market snapshot timestamp must be non-empty")
	}
	if m.Prices == nil {
		m.Prices = map[string]float64{}
	}
	return nil
}

// Price returns the snapshot price for a symbol and whether it is present.
func (m *MarketSnapshot) Price(symbol string) (float64, bool) {
	p, ok := m.Prices[symbol]
	return p, ok
}

func (m *MarketSnapshot) Clone() MarketSnapshot {
	out := MarketSnapshot{Timestamp: m.Timestamp, Prices: make(map[string]float64, len(m.Prices))}
	for k, v := range m.Prices {
		out.Prices[k] = v
	}
	return out
}

// PortfolioState is the live portfolio view. Equity is a snapshot held
// constant for the duration of a run; fills update positions only.
type PortfolioState struct {
	Equity           float64            `json:"equity"`
	StartOfDayEquity float64            `json:"start_of_day_equity"`
	PeakEquity       float64            `json:"peak_equity"`
	Positions        map[string]float64 `json:"positions"`
	RealizedPnlToday float64            `json:"realized_pnl_today"`
	UnrealizedPnl    float64            `json:"unrealized_pnl"`
}

func (p *PortfolioState) Validate() error {
	if p.Equity <= 0 {
		return fmt.Errorf("equity must be > 0, got %v", p.Equity)
	}
	if p.StartOfDayEquity <= 0 {
		return fmt.Errorf("start_of_day_equity must be > 0, got %v", p.StartOfDayEquity)
	}
	if p.PeakEquity <= 0 {
		return fmt.Errorf("peak_equity must be > 0, got %v", p.PeakEquity)
	}
	if p.Positions == nil {
		p.Positions = map[string]float64{}
	}
	return nil
}

// Position returns the signed position quantity for a symbol (0 if absent).
func (p *PortfolioState) Position(symbol string) float64 {
	return p.Positions[symbol]
}

func (p *PortfolioState) Clone() PortfolioState {
	out := *p
	out.Positions = make(map[string]float64, len(p.Positions))
	for k, v := range p.Positions {
		out.Positions[k] = v
	}
	return out
}

// WindowEntry is one (timestamp, rule_id) pair in the rolling violation
// window. It serialises as a two-element JSON array.
type WindowEntry struct {
	Timestamp string
	RuleID    string
}

func (w WindowEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{w.Timestamp, w.RuleID})
}

func (w *WindowEntry) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("violation window entry must be a [timestamp, rule_id] pair, got %d elements", len(pair))
	}
	w.Timestamp = pair[0]
	w.RuleID = pair[1]
	return nil
}

// ExecutionState tracks order counters, the rolling violation window, and
// the kill-switch latch. The kill switch is monotone: once true it is never
// reset within a process lifetime.
type ExecutionState struct {
	OrdersLast60sGlobal     int            `json:"orders_last_60s_global"`
	OrdersLast60sByStrategy map[string]int `json:"orders_last_60s_by_strategy"`
	ViolationsLastWindow    []WindowEntry  `json:"violations_last_window"`
	KillSwitchActive        bool           `json:"kill_switch_active"`
}

// NewExecutionState returns an empty execution state.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		OrdersLast60sByStrategy: map[string]int{},
		ViolationsLastWindow:    []WindowEntry{},
	}
}

func (e *ExecutionState) Validate() error {
	if e.OrdersLast60sGlobal < 0 {
		return fmt.Errorf("orders_last_60s_global must be >= 0, got %d", e.OrdersLast60sGlobal)
	}
	for sid, n := range e.OrdersLast60sByStrategy {
		if n < 0 {
			return fmt.Errorf("orders_last_60s_by_strategy[%s] must be >= 0, got %d", sid, n)
		}
	}
	if e.OrdersLast60sByStrategy == nil {
		e.OrdersLast60sByStrategy = map[string]int{}
	}
	if e.ViolationsLastWindow == nil {
		e.ViolationsLastWindow = []WindowEntry{}
	}
	return nil
}

// StrategyOrders returns the per-strategy order count (0 if absent).
func (e *ExecutionState) StrategyOrders(strategyID string) int {
	return e.OrdersLast60sByStrategy[strategyID]
}

func (e *ExecutionState) Clone() ExecutionState {
	out := *e
	out.OrdersLast60sByStrategy = make(map[string]int, len(e.OrdersLast60sByStrategy))
	for k, v := range e.OrdersLast60sByStrategy {
		out.OrdersLast60sByStrategy[k] = v
	}
	out.ViolationsLastWindow = make([]WindowEntry, len(e.ViolationsLastWindow))
	copy(out.ViolationsLastWindow, e.ViolationsLastWindow)
	return out
}
