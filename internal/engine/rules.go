package engine

import (
	"fmt"
	"math"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/policy"
)

// Rule identifiers. Stable strings: audit records and the kill-switch
// trip_on_rules config refer to them.
const (
	RuleSysPrice     = "SYS-001"
	RuleKillSwitch   = "KILL-001"
	RuleDailyLoss    = "LOSS-001"
	RuleDrawdown     = "LOSS-002"
	RuleGlobalRate   = "EXEC-001"
	RuleStrategyRate = "EXEC-002"
	RulePosition     = "EXP-001"
	RuleGross        = "EXP-002"
	RuleNet          = "EXP-003"
)

func round8(x float64) float64 {
	return math.Round(x*1e8) / 1e8
}

// checkPrice is SYS-001: the intent's symbol has no positive market price.
// Fail-closed: this short-circuits the whole pipeline.
func checkPrice(symbol string, price float64, ok bool) *Violation {
	if ok && price > 0 {
		return nil
	}
	return &Violation{
		RuleID:   RuleSysPrice,
		Severity: SeverityCrit,
		Message:  fmt.Sprintf("Missing or invalid price for symbol '%s'.", symbol),
		Inputs:   map[string]any{"symbol": symbol},
		Computed: map[string]any{},
	}
}

// checkKillSwitch is KILL-001: the kill switch is latched.
func checkKillSwitch(active bool) *Violation {
	if !active {
		return nil
	}
	return &Violation{
		RuleID:   RuleKillSwitch,
		Severity: SeverityCrit,
		Message:  "Kill switch is active — all orders denied.",
		Inputs:   map[string]any{"kill_switch_active": true},
		Computed: map[string]any{},
	}
}

// checkDailyLoss is LOSS-001: daily loss limit breached.
func checkDailyLoss(dailyReturn, limitPct float64) *Violation {
	if dailyReturn > -limitPct {
		return nil
	}
	return &Violation{
		RuleID:   RuleDailyLoss,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("Daily loss %.4f breaches limit -%.4f.", dailyReturn, limitPct),
		Inputs:   map[string]any{"daily_loss_limit_pct": limitPct},
		Computed: map[string]any{"daily_return": dailyReturn},
	}
}

// checkDrawdown is LOSS-002: max drawdown breached. The evaluator trips the
// kill switch when the policy lists LOSS-002 in trip_on_rules.
func checkDrawdown(drawdown, limitPct float64) *Violation {
	if drawdown < limitPct {
		return nil
	}
	return &Violation{
		RuleID:   RuleDrawdown,
		Severity: SeverityCrit,
		Message:  fmt.Sprintf("Drawdown %.4f breaches limit %.4f.", drawdown, limitPct),
		Inputs:   map[string]any{"max_drawdown_pct": limitPct},
		Computed: map[string]any{"drawdown": drawdown},
	}
}

// checkGlobalRate is EXEC-001: global order rate limit breached.
func checkGlobalRate(ordersLast60s int, limits policy.ExecutionLimits) *Violation {
	if ordersLast60s < limits.MaxOrdersPerMinuteGlobal {
		return nil
	}
	return &Violation{
		RuleID:   RuleGlobalRate,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("Global rate %d orders/min exceeds limit %d.",
			ordersLast60s, limits.MaxOrdersPerMinuteGlobal),
		Inputs:   map[string]any{"max_orders_per_minute_global": limits.MaxOrdersPerMinuteGlobal},
		Computed: map[string]any{"orders_last_60s_global": ordersLast60s},
	}
}

// checkStrategyRate is EXEC-002: per-strategy order rate limit breached.
func checkStrategyRate(ordersLast60s int, strategyID string, limits policy.ExecutionLimits) *Violation {
	if ordersLast60s < limits.MaxOrdersPerMinuteByStrategy {
		return nil
	}
	return &Violation{
		RuleID:   RuleStrategyRate,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("Strategy '%s' rate %d orders/min exceeds limit %d.",
			strategyID, ordersLast60s, limits.MaxOrdersPerMinuteByStrategy),
		Inputs: map[string]any{
			"strategy_id":                       strategyID,
			"max_orders_per_minute_by_strategy": limits.MaxOrdersPerMinuteByStrategy,
		},
		Computed: map[string]any{"orders_last_60s_strategy": ordersLast60s},
	}
}

// checkPositionLimit is EXP-001: per-symbol position cap. On breach it also
// returns the largest quantity delta that keeps the post-trade position at
// or below the cap (clamped to >= 0, rounded to 8 dp); the evaluator uses
// it to decide MODIFY vs DENY.
func checkPositionLimit(
	newPositionPct, requestedQty, currentQty, price, equity float64,
	side domain.Side,
	limits policy.ExposureLimits,
) (*Violation, float64) {
	if newPositionPct <= limits.MaxPositionPct {
		return nil, 0
	}

	// Largest delta that lands the post-trade position on the near cap
	// edge. Sells never modify through zero into a short.
	maxValue := limits.MaxPositionPct * equity
	var allowedDelta float64
	if side == domain.SideBuy {
		allowedDelta = maxValue/price - currentQty
	} else {
		allowedDelta = currentQty - maxValue/price
	}
	allowedDelta = round8(math.Max(allowedDelta, 0))

	v := &Violation{
		RuleID:   RulePosition,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("Position %.4f breaches limit %.4f.",
			newPositionPct, limits.MaxPositionPct),
		Inputs: map[string]any{"max_position_pct": limits.MaxPositionPct},
		Computed: map[string]any{
			"new_position_pct": newPositionPct,
			"requested_qty":    requestedQty,
			"allowed_qty":      allowedDelta,
		},
	}
	return v, allowedDelta
}

// checkGrossExposure is EXP-002: gross exposure multiple breached.
func checkGrossExposure(newGrossX, limitX float64) *Violation {
	if newGrossX <= limitX {
		return nil
	}
	return &Violation{
		RuleID:   RuleGross,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("Gross exposure %.4fx breaches limit %.4fx.", newGrossX, limitX),
		Inputs:   map[string]any{"max_gross_exposure_x": limitX},
		Computed: map[string]any{"gross_exposure_x": newGrossX},
	}
}

// checkNetExposure is EXP-003: net exposure multiple breached. Only run
// when the effective limits configure max_net_exposure_x.
func checkNetExposure(newNetX, limitX float64) *Violation {
	if newNetX <= limitX {
		return nil
	}
	return &Violation{
		RuleID:   RuleNet,
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("Net exposure %.4fx breaches limit %.4fx.", newNetX, limitX),
		Inputs:   map[string]any{"max_net_exposure_x": limitX},
		Computed: map[string]any{"net_exposure_x": newNetX},
	}
}
