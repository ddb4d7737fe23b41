package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/policygate/capital/internal/domain"
)

const alpacaPaperBaseURL = "https://paper-api.alpaca.markets"

// Alpaca is a live broker adapter over the Alpaca trading REST API
// (paper endpoint; production use not recommended for v0.1).
//
// Credentials come from the environment:
//
//	APCA_API_KEY_ID
//	APCA_API_SECRET_KEY
type Alpaca struct {
	client    *restClient
	baseURL   string
	keyID     string
	secretKey string

	submitted []string
	returned  map[string]bool
}

// NewAlpacaFromEnv builds an Alpaca adapter from environment variables.
func NewAlpacaFromEnv(logger zerolog.Logger) (*Alpaca, error) {
	keyID := os.Getenv("APCA_API_KEY_ID")
	secretKey := os.Getenv("APCA_API_SECRET_KEY")
	if keyID == "" || secretKey == "" {
		return nil, fmt.Errorf("alpaca: APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	baseURL := os.Getenv("APCA_API_BASE_URL")
	if baseURL == "" {
		baseURL = alpacaPaperBaseURL
	}
	return &Alpaca{
		client:    newRESTClient("alpaca", 10*time.Second, 3, logger),
		baseURL:   baseURL,
		keyID:     keyID,
		secretKey: secretKey,
		returned:  map[string]bool{},
	}, nil
}

func (a *Alpaca) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", a.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

type alpacaOrder struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledAt       string `json:"filled_at"`
}

// Submit implements Adapter.
func (a *Alpaca) Submit(ctx context.Context, intent *domain.OrderIntent, _ *domain.MarketSnapshot) (string, error) {
	payload := map[string]any{
		"symbol":        intent.Instrument.Symbol,
		"qty":           strconv.FormatFloat(intent.Qty, 'f', -1, 64),
		"side":          string(intent.Side),
		"type":          string(intent.OrderType),
		"time_in_force": "day",
	}
	if intent.OrderType == domain.OrderTypeLimit {
		if intent.LimitPrice == nil {
			return "", &SubmitError{Broker: "alpaca", Err: fmt.Errorf("limit order %s requires a limit_price", intent.IntentID)}
		}
		payload["limit_price"] = strconv.FormatFloat(*intent.LimitPrice, 'f', -1, 64)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SubmitError{Broker: "alpaca", Err: err}
	}

	req, err := a.newRequest(ctx, http.MethodPost, "/v2/orders", body)
	if err != nil {
		return "", &SubmitError{Broker: "alpaca", Err: err}
	}
	data, err := a.client.do(ctx, req)
	if err != nil {
		return "", &SubmitError{Broker: "alpaca", Err: err}
	}

	var order alpacaOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return "", &SubmitError{Broker: "alpaca", Err: fmt.Errorf("decode order response: %w", err)}
	}
	if order.ID == "" {
		return "", &SubmitError{Broker: "alpaca", Err: fmt.Errorf("order response missing id")}
	}
	a.submitted = append(a.submitted, order.ID)
	return order.ID, nil
}

// Cancel implements Adapter.
func (a *Alpaca) Cancel(ctx context.Context, orderID string) error {
	req, err := a.newRequest(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil)
	if err != nil {
		return fmt.Errorf("alpaca: cancel %s: %w", orderID, err)
	}
	if _, err := a.client.do(ctx, req); err != nil {
		return fmt.Errorf("alpaca: cancel %s: %w", orderID, err)
	}
	return nil
}

// PollFills implements Adapter. Fills for an order are reported once.
func (a *Alpaca) PollFills(ctx context.Context, _ string) ([]Fill, error) {
	fills := []Fill{}
	for _, oid := range a.submitted {
		if a.returned[oid] {
			continue
		}
		order, err := a.fetchOrder(ctx, oid)
		if err != nil {
			return nil, fmt.Errorf("alpaca: poll fills: %w", err)
		}
		if order.Status != "filled" {
			continue
		}
		qty, _ := strconv.ParseFloat(order.FilledQty, 64)
		price, _ := strconv.ParseFloat(order.FilledAvgPrice, 64)
		side := domain.SideBuy
		if order.Side == "sell" {
			side = domain.SideSell
		}
		fills = append(fills, Fill{
			OrderID:   oid,
			Symbol:    order.Symbol,
			Side:      side,
			Qty:       qty,
			Price:     price,
			Timestamp: order.FilledAt,
		})
		a.returned[oid] = true
	}
	return fills, nil
}

// Order implements OrderStatusReader.
func (a *Alpaca) Order(ctx context.Context, orderID string) (*Order, error) {
	ao, err := a.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("alpaca: order %s: %w", orderID, err)
	}
	status := StatusPending
	switch ao.Status {
	case "filled":
		status = StatusFilled
	case "canceled", "expired":
		status = StatusCancelled
	case "rejected":
		status = StatusRejected
	}
	qty, _ := strconv.ParseFloat(ao.FilledQty, 64)
	side := domain.SideBuy
	if ao.Side == "sell" {
		side = domain.SideSell
	}
	return &Order{OrderID: orderID, Symbol: ao.Symbol, Side: side, Qty: qty, Status: status}, nil
}

func (a *Alpaca) fetchOrder(ctx context.Context, orderID string) (*alpacaOrder, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/v2/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	data, err := a.client.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var order alpacaOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return &order, nil
}
