package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/policy"
)

func monitorPolicy() *policy.Policy {
	pol := testPolicy()
	pol.Defaults.Mode = policy.ModeMonitor
	return pol
}

func TestMonitorForcesAllowButKeepsViolations(t *testing.T) {
	execution := domain.NewExecutionState()
	execution.OrdersLast60sGlobal = 60
	d := Evaluate(testIntent(domain.SideBuy, 1), monitorPolicy(),
		testPortfolio(nil), testMarket(), execution)

	assert.Equal(t, VerdictAllow, d.Verdict)
	require.Len(t, d.Violations, 1)
	assert.True(t, d.HasRule(RuleGlobalRate))
}

func TestMonitorDoesNotOverrideFailClosedPrice(t *testing.T) {
	market := &domain.MarketSnapshot{Timestamp: "2026-01-02T15:00:00Z", Prices: map[string]float64{}}
	d := Evaluate(testIntent(domain.SideBuy, 1), monitorPolicy(),
		testPortfolio(nil), market, domain.NewExecutionState())

	assert.Equal(t, VerdictDeny, d.Verdict)
	assert.True(t, d.HasRule(RuleSysPrice))
}

func TestMonitorPreservesModify(t *testing.T) {
	d := Evaluate(testIntent(domain.SideBuy, 50), monitorPolicy(),
		testPortfolio(map[string]float64{"AAPL": 10}), testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictModify, d.Verdict)
	require.NotNil(t, d.ModifiedIntent)
	assert.Equal(t, 40.0, d.ModifiedIntent.Qty)
}

func TestMonitorPreservesKillSwitchTrigger(t *testing.T) {
	portfolio := &domain.PortfolioState{
		Equity:           90000,
		StartOfDayEquity: 90000,
		PeakEquity:       100000,
		Positions:        map[string]float64{},
	}
	d := Evaluate(testIntent(domain.SideBuy, 1), monitorPolicy(),
		portfolio, testMarket(), domain.NewExecutionState())

	// The verdict is softened; the trip signal is not.
	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.True(t, d.HasRule(RuleDrawdown))
	assert.True(t, d.KillSwitchTriggered)
}

func TestMonitorOverridesKillSwitchDeny(t *testing.T) {
	execution := domain.NewExecutionState()
	execution.KillSwitchActive = true
	d := Evaluate(testIntent(domain.SideBuy, 1), monitorPolicy(),
		testPortfolio(nil), testMarket(), execution)

	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.True(t, d.HasRule(RuleKillSwitch))
}

func TestMonitorCleanIntentStaysAllow(t *testing.T) {
	d := Evaluate(testIntent(domain.SideBuy, 10), monitorPolicy(),
		testPortfolio(nil), testMarket(), domain.NewExecutionState())

	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.Empty(t, d.Violations)
}
