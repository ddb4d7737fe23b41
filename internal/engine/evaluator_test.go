package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/policy"
)

func floatPtr(v float64) *float64 { return &v }

// testPolicy: equity-relative caps sized so that a $100k portfolio with
// AAPL at $200 sits at the cap with 50 shares.
func testPolicy() *policy.Policy {
	return &policy.Policy{
		Version:  "0.1",
		Timezone: "UTC",
		Defaults: policy.Defaults{Mode: policy.ModeEnforce, Decision: policy.DecisionDeny},
		Limits: policy.Limits{
			Exposure: policy.ExposureLimits{
				MaxPositionPct:    0.10,
				MaxGrossExposureX: 2.0,
				MaxNetExposureX:   floatPtr(1.5),
			},
			Loss: policy.LossLimits{
				DailyLossLimitPct: 0.03,
				MaxDrawdownPct:    0.10,
			},
			Execution: policy.ExecutionLimits{
				MaxOrdersPerMinuteGlobal:     60,
				MaxOrdersPerMinuteByStrategy: 20,
			},
			KillSwitch: policy.KillSwitchConfig{
				TripOnRules:            []string{RuleDrawdown},
				TripAfterNViolations:   3,
				ViolationWindowSeconds: 300,
			},
		},
	}
}

func testIntent(side domain.Side, qty float64) *domain.OrderIntent {
	return &domain.OrderIntent{
		IntentID:   "int-1",
		Timestamp:  "2026-01-02T15:00:00Z",
		StrategyID: "momentum-1",
		AccountID:  "acct-1",
		Instrument: domain.Instrument{Symbol: "AAPL", AssetClass: domain.AssetEquity},
		Side:       side,
		OrderType:  domain.OrderTypeMarket,
		Qty:        qty,
	}
}

func testPortfolio(positions map[string]float64) *domain.PortfolioState {
	if positions == nil {
		positions = map[string]float64{}
	}
	return &domain.PortfolioState{
		Equity:           100000,
		StartOfDayEquity: 100000,
		PeakEquity:       100000,
		Positions:        positions,
	}
}

func testMarket() *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Timestamp: "2026-01-02T15:00:00Z",
		Prices:    map[string]float64{"AAPL": 200, "TSLA": 400},
	}
}

func evidenceValue(t *testing.T, d Decision, metric string) any {
	t.Helper()
	for _, e := range d.Evidence {
		if e.Metric == metric {
			return e.Value
		}
	}
	t.Fatalf("evidence %q not found", metric)
	return nil
}

func TestAllowSmallBuy(t *testing.T) {
	d := Evaluate(testIntent(domain.SideBuy, 10), testPolicy(),
		testPortfolio(nil), testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.Equal(t, "int-1", d.IntentID)
	assert.Empty(t, d.Violations)
	assert.Nil(t, d.ModifiedIntent)
	assert.False(t, d.KillSwitchTriggered)
	assert.Equal(t, 0.02, evidenceValue(t, d, "new_position_pct"))
}

func TestModifyOnPositionCap(t *testing.T) {
	d := Evaluate(testIntent(domain.SideBuy, 50), testPolicy(),
		testPortfolio(map[string]float64{"AAPL": 10}), testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictModify, d.Verdict)
	require.NotNil(t, d.ModifiedIntent)
	assert.Equal(t, 40.0, d.ModifiedIntent.Qty)
	assert.True(t, d.HasRule(RulePosition))
	assert.Len(t, d.Violations, 1)
}

func TestModifySellNeverCrossesZero(t *testing.T) {
	// 60 shares held, cap is 50; a sell of 200 reduces to the cap edge,
	// never through zero into a short.
	d := Evaluate(testIntent(domain.SideSell, 200), testPolicy(),
		testPortfolio(map[string]float64{"AAPL": 60}), testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictModify, d.Verdict)
	require.NotNil(t, d.ModifiedIntent)
	assert.Equal(t, 10.0, d.ModifiedIntent.Qty)
}

func TestDenyOnGrossExposure(t *testing.T) {
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		testPortfolio(map[string]float64{"AAPL": 600, "TSLA": 300}),
		testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.True(t, d.HasRule(RuleGross))
	assert.Equal(t, 2.402, evidenceValue(t, d, "gross_exposure_x"))
}

func TestDenyOnNetExposure(t *testing.T) {
	// Exposure comes from the other symbol; the intent's own position is
	// tiny, so only EXP-003 fires (gross 1.62x is under the 2.0x cap).
	d := Evaluate(testIntent(domain.SideBuy, 10), testPolicy(),
		testPortfolio(map[string]float64{"TSLA": 400}),
		testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictDeny, d.Verdict)
	require.Len(t, d.Violations, 1)
	assert.True(t, d.HasRule(RuleNet))
}

func TestNetExposureSkippedWhenUnconfigured(t *testing.T) {
	pol := testPolicy()
	pol.Limits.Exposure.MaxNetExposureX = nil
	d := Evaluate(testIntent(domain.SideBuy, 10), pol,
		testPortfolio(map[string]float64{"TSLA": 400}),
		testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.InDelta(t, 1.62, evidenceValue(t, d, "net_exposure_x").(float64), 1e-9)
}

func TestDenyAndTripOnDrawdown(t *testing.T) {
	portfolio := &domain.PortfolioState{
		Equity:           90000,
		StartOfDayEquity: 90000,
		PeakEquity:       100000,
		Positions:        map[string]float64{},
	}
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		portfolio, testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.True(t, d.HasRule(RuleDrawdown))
	assert.False(t, d.HasRule(RuleDailyLoss))
	assert.True(t, d.KillSwitchTriggered)
	assert.Equal(t, 0.1, evidenceValue(t, d, "drawdown"))
}

func TestDenyOnDailyLoss(t *testing.T) {
	portfolio := &domain.PortfolioState{
		Equity:           96000,
		StartOfDayEquity: 100000,
		PeakEquity:       100000,
		Positions:        map[string]float64{},
	}
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		portfolio, testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.True(t, d.HasRule(RuleDailyLoss))
	assert.False(t, d.KillSwitchTriggered)
}

func TestDenyOnKillSwitchActive(t *testing.T) {
	execution := domain.NewExecutionState()
	execution.KillSwitchActive = true

	// Portfolio also in deep drawdown: KILL-001 must short-circuit before
	// loss rules run.
	portfolio := &domain.PortfolioState{
		Equity:           90000,
		StartOfDayEquity: 90000,
		PeakEquity:       100000,
		Positions:        map[string]float64{},
	}
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		portfolio, testMarket(), execution)

	assert.Equal(t, VerdictDeny, d.Verdict)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, RuleKillSwitch, d.Violations[0].RuleID)
	assert.False(t, d.KillSwitchTriggered)
}

func TestDenyMissingPrice(t *testing.T) {
	market := &domain.MarketSnapshot{Timestamp: "2026-01-02T15:00:00Z", Prices: map[string]float64{}}
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		testPortfolio(nil), market, domain.NewExecutionState())

	assert.Equal(t, VerdictDeny, d.Verdict)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, RuleSysPrice, d.Violations[0].RuleID)
	assert.Empty(t, d.Evidence)
}

func TestDenyNonPositivePrice(t *testing.T) {
	market := &domain.MarketSnapshot{Timestamp: "2026-01-02T15:00:00Z", Prices: map[string]float64{"AAPL": 0}}
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		testPortfolio(nil), market, domain.NewExecutionState())

	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.True(t, d.HasRule(RuleSysPrice))
}

func TestDenyOnGlobalRate(t *testing.T) {
	execution := domain.NewExecutionState()
	execution.OrdersLast60sGlobal = 60
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		testPortfolio(nil), testMarket(), execution)

	assert.Equal(t, VerdictDeny, d.Verdict)
	require.Len(t, d.Violations, 1)
	assert.True(t, d.HasRule(RuleGlobalRate))
}

func TestDenyOnStrategyRate(t *testing.T) {
	execution := domain.NewExecutionState()
	execution.OrdersLast60sByStrategy["momentum-1"] = 20
	d := Evaluate(testIntent(domain.SideBuy, 1), testPolicy(),
		testPortfolio(nil), testMarket(), execution)

	assert.Equal(t, VerdictDeny, d.Verdict)
	require.Len(t, d.Violations, 1)
	assert.True(t, d.HasRule(RuleStrategyRate))
}

func TestUnpricedPositionsOmittedFromExposure(t *testing.T) {
	// UNKNOWN has no price: it is left out of exposure accounting rather
	// than failing the intent.
	d := Evaluate(testIntent(domain.SideBuy, 10), testPolicy(),
		testPortfolio(map[string]float64{"UNKNOWN": 1e9}),
		testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.Equal(t, 0.02, evidenceValue(t, d, "gross_exposure_x"))
}

func TestSymbolOverridePrecedence(t *testing.T) {
	pol := testPolicy()
	pol.Overrides.Symbols = map[string]policy.Override{
		"AAPL": {Exposure: &policy.ExposureLimits{MaxPositionPct: 0.01, MaxGrossExposureX: 2.0}},
	}
	d := Evaluate(testIntent(domain.SideBuy, 10), pol,
		testPortfolio(nil), testMarket(), domain.NewExecutionState())

	// 0.02 position pct breaches the tightened 0.01 symbol cap.
	assert.Equal(t, VerdictModify, d.Verdict)
	require.NotNil(t, d.ModifiedIntent)
	assert.Equal(t, 5.0, d.ModifiedIntent.Qty)
}

func TestEvaluateIsPure(t *testing.T) {
	intent := testIntent(domain.SideBuy, 50)
	portfolio := testPortfolio(map[string]float64{"AAPL": 10})
	market := testMarket()
	execution := domain.NewExecutionState()

	portfolioBefore := portfolio.Clone()
	executionBefore := execution.Clone()

	d1 := Evaluate(intent, testPolicy(), portfolio, market, execution)
	d2 := Evaluate(intent, testPolicy(), portfolio, market, execution)

	assert.Equal(t, d1, d2)
	assert.Equal(t, portfolioBefore, portfolio.Clone())
	assert.Equal(t, executionBefore, execution.Clone())
}

func TestEngineStampsEvalMs(t *testing.T) {
	eng := NewWithPolicy(testPolicy(), "deadbeef")
	d := eng.Evaluate(testIntent(domain.SideBuy, 10),
		testPortfolio(nil), testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.GreaterOrEqual(t, d.EvalMs, 0.0)
	assert.Equal(t, "deadbeef", eng.PolicyHash())
}
