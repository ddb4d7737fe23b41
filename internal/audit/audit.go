package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
)

// Event is one audit record: the decision plus frozen copies of every
// input that determined it. Any past decision can be replayed from its
// event alone (plus a policy with the matching hash).
type Event struct {
	EventID        string                `json:"event_id"`
	Timestamp      string                `json:"timestamp"`
	EngineVersion  string                `json:"engine_version"`
	PolicyHash     string                `json:"policy_hash"`
	RunID          string                `json:"run_id,omitempty"`
	Intent         domain.OrderIntent    `json:"intent"`
	PortfolioState domain.PortfolioState `json:"portfolio_state"`
	MarketSnapshot domain.MarketSnapshot `json:"market_snapshot"`
	ExecutionState domain.ExecutionState `json:"execution_state"`
	Decision       engine.Decision       `json:"decision"`
}

// BuildEvent snapshots a decision and its inputs into an audit event. The
// inputs are deep-copied: the caller mutates portfolio and execution state
// after auditing, and the event must stay frozen.
func BuildEvent(
	decision engine.Decision,
	intent *domain.OrderIntent,
	portfolio *domain.PortfolioState,
	market *domain.MarketSnapshot,
	execution *domain.ExecutionState,
	policyHash string,
	runID string,
) Event {
	return Event{
		EventID:        uuid.NewString(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		EngineVersion:  engine.Version,
		PolicyHash:     policyHash,
		RunID:          runID,
		Intent:         intent.Clone(),
		PortfolioState: portfolio.Clone(),
		MarketSnapshot: market.Clone(),
		ExecutionState: execution.Clone(),
		Decision:       decision,
	}
}

// WriteEvent appends a single canonical-JSON line to the audit log. The
// file is opened in append mode per write: a successful return means the
// line is in the OS file buffer. No rewrites, no truncation.
func WriteEvent(path string, ev Event) error {
	line, err := MarshalCanonical(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ReadEvents reads every audit event from a JSONL file. Blank lines are
// skipped. Events are validated strictly: unknown fields are rejected.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return events, nil
}
