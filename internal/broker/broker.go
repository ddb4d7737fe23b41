// Package broker defines the narrow adapter contract between the policy
// gate and order execution, and ships a deterministic simulated broker
// plus live REST adapters.
package broker

import (
	"context"
	"fmt"

	"github.com/policygate/capital/internal/domain"
)

// OrderStatus is the lifecycle state of a broker order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// Order is a broker-side view of a submitted order.
type Order struct {
	OrderID    string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Side       domain.Side      `json:"side"`
	Qty        float64          `json:"qty"`
	OrderType  domain.OrderType `json:"order_type"`
	LimitPrice *float64         `json:"limit_price,omitempty"`
	Status     OrderStatus      `json:"status"`
}

// Fill is one execution report.
type Fill struct {
	OrderID   string      `json:"order_id"`
	Symbol    string      `json:"symbol"`
	Side      domain.Side `json:"side"`
	Qty       float64     `json:"qty"`
	Price     float64     `json:"price"`
	Timestamp string      `json:"timestamp"`
}

// Adapter is the minimal polymorphic broker surface. Implementations must
// not leak transport-level errors; failures are returned as wrapped
// errors and the caller fails loud.
type Adapter interface {
	// Submit places an order for the effective intent. Returns a broker
	// order ID. Failures propagate to the caller.
	Submit(ctx context.Context, intent *domain.OrderIntent, market *domain.MarketSnapshot) (string, error)

	// Cancel cancels a pending order. Best-effort idempotent.
	Cancel(ctx context.Context, orderID string) error

	// PollFills returns fills since the given RFC 3339 timestamp (all
	// pending fills when sinceTS is empty). Already-returned fills are
	// not repeated.
	PollFills(ctx context.Context, sinceTS string) ([]Fill, error)
}

// OrderStatusReader is an optional extension: brokers that expose
// per-order status let the runner report rejections for orders that
// produced no fills.
type OrderStatusReader interface {
	Order(ctx context.Context, orderID string) (*Order, error)
}

// SubmitError wraps a broker submission failure so callers can map it to
// the right surface (propagate in the runner, 502 over HTTP).
type SubmitError struct {
	Broker string
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("broker %s: submit failed: %v", e.Broker, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
