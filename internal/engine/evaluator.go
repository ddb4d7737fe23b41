package engine

import (
	"math"
	"sort"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/policy"
)

// round6 rounds evidence values to 6 decimal places for byte-stable audit
// output.
func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// Evaluate runs an OrderIntent through the fixed rule pipeline:
//
//  1. Fail-closed price check (SYS-001 short-circuits)
//  2. Kill switch (KILL-001 short-circuits)
//  3. Loss limits (LOSS-001, LOSS-002; LOSS-002 may trip the kill switch)
//  4. Execution throttles (EXEC-001, EXEC-002)
//  5. Exposure (EXP-001 with MODIFY support, EXP-002, EXP-003)
//  6. All clear → ALLOW
//
// The function is pure: it never mutates its inputs and never observes
// wall-clock time, randomness, or global state. Identical inputs produce
// byte-identical decisions.
func Evaluate(
	intent *domain.OrderIntent,
	pol *policy.Policy,
	portfolio *domain.PortfolioState,
	market *domain.MarketSnapshot,
	execution *domain.ExecutionState,
) Decision {
	symbol := intent.Instrument.Symbol
	monitor := pol.Defaults.Mode == policy.ModeMonitor

	// --- 1. Fail-closed: missing or non-positive price ---
	price, ok := market.Price(symbol)
	if v := checkPrice(symbol, price, ok); v != nil {
		// Data-integrity failures deny even in monitor mode.
		return Decision{
			Verdict:    VerdictDeny,
			IntentID:   intent.IntentID,
			Violations: []Violation{*v},
			Evidence:   []Evidence{},
		}
	}

	// --- Derived metrics ---
	equity := portfolio.Equity
	currentQty := portfolio.Position(symbol)

	dailyReturn := (equity - portfolio.StartOfDayEquity) / portfolio.StartOfDayEquity
	drawdown := 0.0
	if portfolio.PeakEquity > 0 {
		drawdown = (portfolio.PeakEquity - equity) / portfolio.PeakEquity
	}

	newQty := currentQty + intent.Qty
	if intent.Side == domain.SideSell {
		newQty = currentQty - intent.Qty
	}
	newPositionPct := math.Abs(newQty*price) / equity

	// Post-trade exposure over all priced position symbols plus the
	// intent's symbol. Symbols without a price are omitted; only the
	// intent's symbol is fail-closed.
	positionValues := map[string]float64{}
	for sym, qty := range portfolio.Positions {
		if p, ok := market.Price(sym); ok {
			positionValues[sym] = qty * p
		}
	}
	positionValues[symbol] = newQty * price

	// Deterministic summation order.
	syms := make([]string, 0, len(positionValues))
	for sym := range positionValues {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	var grossExposure, netSum float64
	for _, sym := range syms {
		grossExposure += math.Abs(positionValues[sym])
		netSum += positionValues[sym]
	}
	netExposure := math.Abs(netSum)

	var newGrossX, newNetX float64
	if equity > 0 {
		newGrossX = grossExposure / equity
		newNetX = netExposure / equity
	}

	expLimits := pol.ResolveExposure(symbol, intent.StrategyID)
	lossLimits := pol.ResolveLoss()

	netLimit := 0.0
	if expLimits.MaxNetExposureX != nil {
		netLimit = *expLimits.MaxNetExposureX
	}
	evidence := []Evidence{
		{Metric: "daily_return", Value: round6(dailyReturn), Limit: round6(-lossLimits.DailyLossLimitPct)},
		{Metric: "drawdown", Value: round6(drawdown), Limit: round6(lossLimits.MaxDrawdownPct)},
		{Metric: "new_position_pct", Value: round6(newPositionPct), Limit: round6(expLimits.MaxPositionPct)},
		{Metric: "gross_exposure_x", Value: round6(newGrossX), Limit: round6(pol.Limits.Exposure.MaxGrossExposureX)},
		{Metric: "net_exposure_x", Value: round6(newNetX), Limit: round6(netLimit)},
	}

	deny := func(violations []Violation, tripped bool) Decision {
		d := Decision{
			Verdict:             VerdictDeny,
			IntentID:            intent.IntentID,
			Violations:          violations,
			Evidence:            evidence,
			KillSwitchTriggered: tripped,
		}
		if monitor {
			// Monitor mode: violations are recorded and audited, but the
			// terminal verdict is forced to ALLOW.
			d.Verdict = VerdictAllow
		}
		return d
	}

	violations := []Violation{}

	// --- 2. Kill switch ---
	if v := checkKillSwitch(execution.KillSwitchActive); v != nil {
		return deny(append(violations, *v), false)
	}

	// --- 3. Loss limits ---
	tripped := false
	if v := checkDailyLoss(dailyReturn, lossLimits.DailyLossLimitPct); v != nil {
		violations = append(violations, *v)
	}
	if v := checkDrawdown(drawdown, lossLimits.MaxDrawdownPct); v != nil {
		violations = append(violations, *v)
		if pol.Limits.KillSwitch.TripsOn(RuleDrawdown) {
			tripped = true
		}
	}
	if len(violations) > 0 {
		return deny(violations, tripped)
	}

	// --- 4. Execution throttles ---
	execLimits := pol.ResolveExecution(intent.StrategyID)
	if v := checkGlobalRate(execution.OrdersLast60sGlobal, execLimits); v != nil {
		violations = append(violations, *v)
	}
	if v := checkStrategyRate(execution.StrategyOrders(intent.StrategyID), intent.StrategyID, execLimits); v != nil {
		violations = append(violations, *v)
	}
	if len(violations) > 0 {
		return deny(violations, false)
	}

	// --- 5. Exposure ---
	vPos, allowedQty := checkPositionLimit(
		newPositionPct, intent.Qty, currentQty, price, equity, intent.Side, expLimits)
	vGross := checkGrossExposure(newGrossX, expLimits.MaxGrossExposureX)
	var vNet *Violation
	if expLimits.MaxNetExposureX != nil {
		vNet = checkNetExposure(newNetX, *expLimits.MaxNetExposureX)
	}

	if vPos != nil {
		violations = append(violations, *vPos)
		if allowedQty > 0 && vGross == nil && vNet == nil {
			// EXP-001 is the only exposure breach and a reduced quantity
			// fits: MODIFY instead of DENY.
			modified := intent.WithQty(allowedQty)
			return Decision{
				Verdict:        VerdictModify,
				IntentID:       intent.IntentID,
				ModifiedIntent: &modified,
				Violations:     violations,
				Evidence:       evidence,
			}
		}
		if vGross != nil {
			violations = append(violations, *vGross)
		}
		if vNet != nil {
			violations = append(violations, *vNet)
		}
		return deny(violations, false)
	}

	if vGross != nil {
		violations = append(violations, *vGross)
	}
	if vNet != nil {
		violations = append(violations, *vNet)
	}
	if len(violations) > 0 {
		return deny(violations, false)
	}

	// --- 6. All clear ---
	return Decision{
		Verdict:    VerdictAllow,
		IntentID:   intent.IntentID,
		Violations: []Violation{},
		Evidence:   evidence,
	}
}
