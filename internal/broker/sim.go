package broker

import (
	"context"
	"fmt"

	"github.com/policygate/capital/internal/domain"
)

// Sim is a deterministic paper broker for tests, demos and dry runs.
//
// Semantics:
//   - Market orders fill immediately at the snapshot price.
//   - Limit buys fill when limit_price >= price; limit sells when
//     limit_price <= price.
//   - No partial fills, no slippage, no fees.
//   - Orders for unpriced symbols are rejected.
//
// Sim is not safe for concurrent use; callers serialise access (the
// stream runner is sequential, the HTTP handler holds the server lock).
type Sim struct {
	orders  map[string]*Order
	pending []Fill
	nextID  int
}

// NewSim returns an empty simulated broker.
func NewSim() *Sim {
	return &Sim{orders: map[string]*Order{}, nextID: 1}
}

// Submit implements Adapter.
func (s *Sim) Submit(_ context.Context, intent *domain.OrderIntent, market *domain.MarketSnapshot) (string, error) {
	symbol := intent.Instrument.Symbol
	price, ok := market.Price(symbol)

	orderID := fmt.Sprintf("SIM-%06d", s.nextID)
	s.nextID++

	order := &Order{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       intent.Side,
		Qty:        intent.Qty,
		OrderType:  intent.OrderType,
		LimitPrice: intent.LimitPrice,
		Status:     StatusPending,
	}
	s.orders[orderID] = order

	if !ok || price <= 0 {
		order.Status = StatusRejected
		return orderID, nil
	}

	fills := false
	switch {
	case intent.OrderType == domain.OrderTypeMarket:
		fills = true
	case intent.OrderType == domain.OrderTypeLimit && intent.LimitPrice != nil:
		if intent.Side == domain.SideBuy && *intent.LimitPrice >= price {
			fills = true
		}
		if intent.Side == domain.SideSell && *intent.LimitPrice <= price {
			fills = true
		}
	}

	if fills {
		order.Status = StatusFilled
		s.pending = append(s.pending, Fill{
			OrderID:   orderID,
			Symbol:    symbol,
			Side:      intent.Side,
			Qty:       intent.Qty,
			Price:     price,
			Timestamp: intent.Timestamp,
		})
	} else {
		order.Status = StatusRejected
	}
	return orderID, nil
}

// Cancel implements Adapter. Cancelling a non-pending or unknown order is
// a no-op.
func (s *Sim) Cancel(_ context.Context, orderID string) error {
	if order, ok := s.orders[orderID]; ok && order.Status == StatusPending {
		order.Status = StatusCancelled
	}
	return nil
}

// PollFills implements Adapter. Returned fills are removed from the
// pending queue and never repeated.
func (s *Sim) PollFills(_ context.Context, sinceTS string) ([]Fill, error) {
	out := []Fill{}
	var keep []Fill
	for _, f := range s.pending {
		if sinceTS == "" || f.Timestamp >= sinceTS {
			out = append(out, f)
		} else {
			keep = append(keep, f)
		}
	}
	s.pending = keep
	return out, nil
}

// Order implements OrderStatusReader.
func (s *Sim) Order(_ context.Context, orderID string) (*Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	cp := *order
	return &cp, nil
}
