package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/policygate/capital/internal/domain"
)

// Tradier environment base URLs.
var tradierBaseURLs = map[string]string{
	"sandbox": "https://sandbox.tradier.com",
	"live":    "https://api.tradier.com",
}

// tradierStatusMap maps Tradier order statuses onto the adapter's.
var tradierStatusMap = map[string]OrderStatus{
	"pending":          StatusPending,
	"open":             StatusPending,
	"partially_filled": StatusPending,
	"filled":           StatusFilled,
	"expired":          StatusCancelled,
	"canceled":         StatusCancelled,
	"rejected":         StatusRejected,
}

// Tradier is a live broker adapter over the Tradier REST API.
//
// Credentials come from the environment:
//
//	TRADIER_TOKEN       OAuth bearer token
//	TRADIER_ACCOUNT_ID  account ID
//	TRADIER_ENV         "sandbox" (default) or "live"
type Tradier struct {
	client    *restClient
	baseURL   string
	token     string
	accountID string

	// Order IDs submitted through this adapter, so PollFills only
	// reports our own orders; filled IDs already returned are skipped.
	submitted []string
	returned  map[string]bool
}

// NewTradierFromEnv builds a Tradier adapter from environment variables.
func NewTradierFromEnv(logger zerolog.Logger) (*Tradier, error) {
	token := os.Getenv("TRADIER_TOKEN")
	accountID := os.Getenv("TRADIER_ACCOUNT_ID")
	env := os.Getenv("TRADIER_ENV")
	if env == "" {
		env = "sandbox"
	}
	if token == "" {
		return nil, fmt.Errorf("tradier: TRADIER_TOKEN is required")
	}
	if accountID == "" {
		return nil, fmt.Errorf("tradier: TRADIER_ACCOUNT_ID is required")
	}
	baseURL, ok := tradierBaseURLs[env]
	if !ok {
		return nil, fmt.Errorf("tradier: TRADIER_ENV must be sandbox|live, got %q", env)
	}
	return &Tradier{
		client:    newRESTClient("tradier", 10*time.Second, 2, logger),
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		returned:  map[string]bool{},
	}, nil
}

func (t *Tradier) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// Submit implements Adapter.
func (t *Tradier) Submit(ctx context.Context, intent *domain.OrderIntent, _ *domain.MarketSnapshot) (string, error) {
	form := url.Values{}
	form.Set("class", "equity")
	form.Set("symbol", intent.Instrument.Symbol)
	form.Set("side", string(intent.Side))
	form.Set("quantity", strconv.FormatFloat(intent.Qty, 'f', -1, 64))
	form.Set("type", string(intent.OrderType))
	form.Set("duration", "day")
	if intent.OrderType == domain.OrderTypeLimit {
		if intent.LimitPrice == nil {
			return "", &SubmitError{Broker: "tradier", Err: fmt.Errorf("limit order %s requires a limit_price", intent.IntentID)}
		}
		form.Set("price", strconv.FormatFloat(*intent.LimitPrice, 'f', -1, 64))
	}

	req, err := t.newRequest(ctx, http.MethodPost, "/v1/accounts/"+t.accountID+"/orders", form)
	if err != nil {
		return "", &SubmitError{Broker: "tradier", Err: err}
	}
	data, err := t.client.do(ctx, req)
	if err != nil {
		return "", &SubmitError{Broker: "tradier", Err: err}
	}

	var resp struct {
		Order struct {
			ID     json.Number `json:"id"`
			Status string      `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &SubmitError{Broker: "tradier", Err: fmt.Errorf("decode order response: %w", err)}
	}
	orderID := resp.Order.ID.String()
	if orderID == "" {
		return "", &SubmitError{Broker: "tradier", Err: fmt.Errorf("order response missing id")}
	}
	t.submitted = append(t.submitted, orderID)
	return orderID, nil
}

// Cancel implements Adapter.
func (t *Tradier) Cancel(ctx context.Context, orderID string) error {
	req, err := t.newRequest(ctx, http.MethodDelete, "/v1/accounts/"+t.accountID+"/orders/"+orderID, nil)
	if err != nil {
		return fmt.Errorf("tradier: cancel %s: %w", orderID, err)
	}
	if _, err := t.client.do(ctx, req); err != nil {
		return fmt.Errorf("tradier: cancel %s: %w", orderID, err)
	}
	return nil
}

type tradierOrder struct {
	ID           json.Number `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         string      `json:"side"`
	Status       string      `json:"status"`
	ExecQuantity float64     `json:"exec_quantity"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	CreateDate   string      `json:"create_date"`
}

// PollFills implements Adapter. Fills for an order are reported once.
func (t *Tradier) PollFills(ctx context.Context, _ string) ([]Fill, error) {
	fills := []Fill{}
	for _, oid := range t.submitted {
		if t.returned[oid] {
			continue
		}
		order, err := t.fetchOrder(ctx, oid)
		if err != nil {
			return nil, fmt.Errorf("tradier: poll fills: %w", err)
		}
		if tradierStatusMap[order.Status] != StatusFilled {
			continue
		}
		side := domain.SideBuy
		if order.Side == "sell" {
			side = domain.SideSell
		}
		fills = append(fills, Fill{
			OrderID:   oid,
			Symbol:    order.Symbol,
			Side:      side,
			Qty:       order.ExecQuantity,
			Price:     order.AvgFillPrice,
			Timestamp: order.CreateDate,
		})
		t.returned[oid] = true
	}
	return fills, nil
}

// Order implements OrderStatusReader.
func (t *Tradier) Order(ctx context.Context, orderID string) (*Order, error) {
	to, err := t.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("tradier: order %s: %w", orderID, err)
	}
	status, ok := tradierStatusMap[to.Status]
	if !ok {
		status = StatusPending
	}
	side := domain.SideBuy
	if to.Side == "sell" {
		side = domain.SideSell
	}
	return &Order{
		OrderID: orderID,
		Symbol:  to.Symbol,
		Side:    side,
		Qty:     to.ExecQuantity,
		Status:  status,
	}, nil
}

func (t *Tradier) fetchOrder(ctx context.Context, orderID string) (*tradierOrder, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "/v1/accounts/"+t.accountID+"/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	data, err := t.client.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Order tradierOrder `json:"order"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return &resp.Order, nil
}
