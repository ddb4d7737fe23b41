// Package runner drives intents through the policy engine and a broker,
// evolving the shared execution state: order counters, the rolling
// violation window, and the kill-switch latch.
package runner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/policygate/capital/internal/audit"
	"github.com/policygate/capital/internal/broker"
	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
	"github.com/policygate/capital/internal/metrics"
)

// Config wires a runner (or the HTTP handler) to its collaborators.
type Config struct {
	Engine       *engine.Engine
	Broker       broker.Adapter
	AuditLogPath string
	ExecLogPath  string
	RunID        string
	Logger       zerolog.Logger
}

// Result reports what one intent's processing did.
type Result struct {
	Decision  engine.Decision
	Submitted bool
	Fills     int
}

// ApplyFill updates portfolio positions after a fill: add on buy,
// subtract on sell, drop the entry when the quantity vanishes. Equity is
// deliberately untouched (fixed for the duration of a run).
func ApplyFill(portfolio *domain.PortfolioState, fill broker.Fill) {
	current := portfolio.Position(fill.Symbol)
	newQty := current + fill.Qty
	if fill.Side == domain.SideSell {
		newQty = current - fill.Qty
	}
	if math.Abs(newQty) < 1e-10 {
		delete(portfolio.Positions, fill.Symbol)
	} else {
		portfolio.Positions[fill.Symbol] = newQty
	}
}

// evictWindow drops violations older than windowSeconds relative to the
// current intent's timestamp. Entries whose timestamps fail to parse are
// retained (conservative: an unparseable entry still counts toward the
// soft trip).
func evictWindow(entries []domain.WindowEntry, currentTS string, windowSeconds int) []domain.WindowEntry {
	now, err := time.Parse(time.RFC3339, currentTS)
	if err != nil {
		return entries
	}
	cutoff := now.Add(-time.Duration(windowSeconds) * time.Second)
	kept := make([]domain.WindowEntry, 0, len(entries))
	for _, e := range entries {
		t, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil || !t.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// ProcessIntent executes the full per-intent sequence atomically with
// respect to other intents (the caller serialises):
//
//	evaluate → audit append → broker submit → fill application →
//	counter increment → window append → eviction → kill-switch latch
//
// The audit append happens before any broker I/O; a broker failure
// propagates (fail loud) with the audit record already durable.
func ProcessIntent(
	ctx context.Context,
	cfg Config,
	intent *domain.OrderIntent,
	portfolio *domain.PortfolioState,
	market *domain.MarketSnapshot,
	execution *domain.ExecutionState,
) (Result, error) {
	decision := cfg.Engine.Evaluate(intent, portfolio, market, execution)
	metrics.ObserveDecision(decision)
	res := Result{Decision: decision}

	cfg.Logger.Debug().
		Str("intent_id", intent.IntentID).
		Str("symbol", intent.Instrument.Symbol).
		Str("verdict", string(decision.Verdict)).
		Int("violations", len(decision.Violations)).
		Msg("intent evaluated")

	if cfg.AuditLogPath != "" {
		event := audit.BuildEvent(decision, intent, portfolio, market, execution, cfg.Engine.PolicyHash(), cfg.RunID)
		if err := audit.WriteEvent(cfg.AuditLogPath, event); err != nil {
			return res, fmt.Errorf("audit intent %s: %w", intent.IntentID, err)
		}
	}

	if decision.Verdict == engine.VerdictAllow || decision.Verdict == engine.VerdictModify {
		effective := intent
		if decision.ModifiedIntent != nil {
			effective = decision.ModifiedIntent
		}

		orderID, err := cfg.Broker.Submit(ctx, effective, market)
		if err != nil {
			// Fail loud: record the rejection, then propagate. The audit
			// record above is already durable.
			if logErr := appendExecEvent(cfg.ExecLogPath, ExecEvent{
				Event:      EventOrderRejected,
				IntentID:   intent.IntentID,
				RunID:      cfg.RunID,
				PolicyHash: cfg.Engine.PolicyHash(),
				Symbol:     effective.Instrument.Symbol,
			}); logErr != nil {
				cfg.Logger.Error().Err(logErr).Msg("exec log write failed")
			}
			return res, fmt.Errorf("submit intent %s: %w", intent.IntentID, err)
		}
		res.Submitted = true
		metrics.OrdersSubmittedTotal.Inc()

		if err := appendExecEvent(cfg.ExecLogPath, ExecEvent{
			Event:      EventOrderSubmitted,
			IntentID:   intent.IntentID,
			OrderID:    orderID,
			RunID:      cfg.RunID,
			PolicyHash: cfg.Engine.PolicyHash(),
			Symbol:     effective.Instrument.Symbol,
			Side:       effective.Side,
			Qty:        effective.Qty,
			OrderType:  effective.OrderType,
		}); err != nil {
			return res, err
		}

		fills, err := cfg.Broker.PollFills(ctx, intent.Timestamp)
		if err != nil {
			return res, fmt.Errorf("poll fills for intent %s: %w", intent.IntentID, err)
		}
		for _, fill := range fills {
			ApplyFill(portfolio, fill)
			res.Fills++
			metrics.OrdersFilledTotal.Inc()
			if err := appendExecEvent(cfg.ExecLogPath, ExecEvent{
				Event:      EventOrderFilled,
				IntentID:   intent.IntentID,
				OrderID:    fill.OrderID,
				RunID:      cfg.RunID,
				PolicyHash: cfg.Engine.PolicyHash(),
				Symbol:     fill.Symbol,
				Side:       fill.Side,
				Qty:        fill.Qty,
				Price:      fill.Price,
			}); err != nil {
				return res, err
			}
		}

		if len(fills) == 0 {
			if reader, ok := cfg.Broker.(broker.OrderStatusReader); ok {
				order, err := reader.Order(ctx, orderID)
				if err == nil && order != nil && order.Status == broker.StatusRejected {
					if err := appendExecEvent(cfg.ExecLogPath, ExecEvent{
						Event:      EventOrderRejected,
						IntentID:   intent.IntentID,
						OrderID:    orderID,
						RunID:      cfg.RunID,
						PolicyHash: cfg.Engine.PolicyHash(),
					}); err != nil {
						return res, err
					}
				}
			}
		}

		execution.OrdersLast60sGlobal++
		execution.OrdersLast60sByStrategy[intent.StrategyID]++
	}

	for _, v := range decision.Violations {
		execution.ViolationsLastWindow = append(execution.ViolationsLastWindow,
			domain.WindowEntry{Timestamp: intent.Timestamp, RuleID: v.RuleID})
	}

	killCfg := cfg.Engine.Policy().Limits.KillSwitch
	execution.ViolationsLastWindow = evictWindow(
		execution.ViolationsLastWindow, intent.Timestamp, killCfg.ViolationWindowSeconds)

	// Latch: hard trip from the decision (LOSS-002), soft trip from
	// window accumulation. Write-once — nothing ever resets it.
	if decision.KillSwitchTriggered {
		execution.KillSwitchActive = true
	}
	if !execution.KillSwitchActive && len(execution.ViolationsLastWindow) >= killCfg.TripAfterNViolations {
		execution.KillSwitchActive = true
		cfg.Logger.Warn().
			Int("window", len(execution.ViolationsLastWindow)).
			Int("threshold", killCfg.TripAfterNViolations).
			Msg("kill switch tripped by violation accumulation")
	}
	if execution.KillSwitchActive {
		metrics.KillSwitchActive.Set(1)
	}

	return res, nil
}

// RunStream drives a sequence of intents through the engine and broker
// under single-writer state. Returns the run summary; the caller owns the
// (mutated) portfolio and execution state.
func RunStream(
	ctx context.Context,
	cfg Config,
	intents []domain.OrderIntent,
	portfolio *domain.PortfolioState,
	market *domain.MarketSnapshot,
	execution *domain.ExecutionState,
) (*RunSummary, error) {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	summary := NewRunSummary(cfg.RunID)

	cfg.Logger.Info().
		Str("run_id", cfg.RunID).
		Int("intents", len(intents)).
		Str("policy_hash", cfg.Engine.PolicyHash()).
		Msg("stream run starting")

	for i := range intents {
		res, err := ProcessIntent(ctx, cfg, &intents[i], portfolio, market, execution)
		summary.Record(res.Decision)
		if res.Submitted {
			summary.Submitted++
		}
		summary.Filled += res.Fills
		if err != nil {
			return summary, err
		}
	}

	cfg.Logger.Info().
		Str("run_id", cfg.RunID).
		Int("total", summary.Total).
		Int("submitted", summary.Submitted).
		Int("filled", summary.Filled).
		Bool("kill_switch", execution.KillSwitchActive).
		Msg("stream run complete")

	return summary, nil
}
