package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/policygate/capital/internal/domain"
)

// ExecEventType is the execution event kind.
type ExecEventType string

const (
	EventOrderSubmitted ExecEventType = "ORDER_SUBMITTED"
	EventOrderFilled    ExecEventType = "ORDER_FILLED"
	EventOrderRejected  ExecEventType = "ORDER_REJECTED"
)

// ExecEvent is one line of the execution event log. This log is disjoint
// from the governance audit log.
type ExecEvent struct {
	TS         string           `json:"ts"`
	Event      ExecEventType    `json:"event"`
	IntentID   string           `json:"intent_id"`
	OrderID    string           `json:"order_id"`
	RunID      string           `json:"run_id,omitempty"`
	PolicyHash string           `json:"policy_hash,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	Side       domain.Side      `json:"side,omitempty"`
	Qty        float64          `json:"qty,omitempty"`
	Price      float64          `json:"price,omitempty"`
	OrderType  domain.OrderType `json:"order_type,omitempty"`
}

// appendExecEvent writes a single execution event line (append-only,
// compact JSON, newline-terminated). A missing path is a no-op.
func appendExecEvent(path string, ev ExecEvent) error {
	if path == "" {
		return nil
	}
	if ev.TS == "" {
		ev.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode exec event: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create exec log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open exec log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append exec event: %w", err)
	}
	return nil
}
