package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
	"github.com/policygate/capital/internal/policy"
)

func floatPtr(v float64) *float64 { return &v }

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
			Loss:      policy.LossLimits{DailyLossLimitPct: 0.03, MaxDrawdownPct: 0.10},
			Execution: policy.ExecutionLimits{MaxOrdersPerMinuteGlobal: 60, MaxOrdersPerMinuteByStrategy: 20},
			KillSwitch: policy.KillSwitchConfig{
				TripOnRules:            []string{"LOSS-002"},
				TripAfterNViolations:   3,
				ViolationWindowSeconds: 300,
			},
		},
	}
}

func testInputs(qty float64) (*domain.OrderIntent, *domain.PortfolioState, *domain.MarketSnapshot, *domain.ExecutionState) {
	intent := &domain.OrderIntent{
		IntentID:   "int-1",
		Timestamp:  "2026-01-02T15:00:00Z",
		StrategyID: "momentum-1",
		AccountID:  "acct-1",
		Instrument: domain.Instrument{Symbol: "AAPL", AssetClass: domain.AssetEquity},
		Side:       domain.SideBuy,
		OrderType:  domain.OrderTypeMarket,
		Qty:        qty,
	}
	portfolio := &domain.PortfolioState{
		Equity:           100000,
		StartOfDayEquity: 100000,
		PeakEquity:       100000,
		Positions:        map[string]float64{"AAPL": 10},
	}
	market := &domain.MarketSnapshot{
		Timestamp: "2026-01-02T15:00:00Z",
		Prices:    map[string]float64{"AAPL": 200},
	}
	return intent, portfolio, market, domain.NewExecutionState()
}

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"zeta": 1, "alpha": 2, "mid": map[string]any{"b": 1, "a": 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"b":1},"zeta":1}`, string(out))
}

func TestMarshalCanonicalIsByteStable(t *testing.T) {
	pol := testPolicy()
	intent, portfolio, market, execution := testInputs(10)
	d := engine.Evaluate(intent, pol, portfolio, market, execution)

	a, err := MarshalCanonical(d)
	require.NoError(t, err)
	b, err := MarshalCanonical(d)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Round-tripping through a decode produces the same bytes again.
	var back engine.Decision
	require.NoError(t, json.Unmarshal(a, &back))
	c, err := MarshalCanonical(back)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(c))
}

func TestBuildEventFreezesInputs(t *testing.T) {
	pol := testPolicy()
	intent, portfolio, market, execution := testInputs(10)
	d := engine.Evaluate(intent, pol, portfolio, market, execution)

	ev := BuildEvent(d, intent, portfolio, market, execution, "hash123", "run-1")
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, engine.Version, ev.EngineVersion)
	assert.Equal(t, "hash123", ev.PolicyHash)
	assert.Equal(t, "run-1", ev.RunID)

	// Later mutation of the live state must not leak into the event.
	portfolio.Positions["AAPL"] = 999
	execution.OrdersLast60sGlobal = 42
	assert.Equal(t, 10.0, ev.PortfolioState.Positions["AAPL"])
	assert.Equal(t, 0, ev.ExecutionState.OrdersLast60sGlobal)
}

func TestWriteAndReadEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	pol := testPolicy()

	for _, qty := range []float64{10, 50} {
		intent, portfolio, market, execution := testInputs(qty)
		d := engine.Evaluate(intent, pol, portfolio, market, execution)
		ev := BuildEvent(d, intent, portfolio, market, execution, "hash123", "run-1")
		require.NoError(t, WriteEvent(path, ev))
	}

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, engine.VerdictAllow, events[0].Decision.Verdict)
	assert.Equal(t, engine.VerdictModify, events[1].Decision.Verdict)

	// Append-only: each line is compact JSON terminated by a newline.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.NotContains(t, line, "\n")
		assert.False(t, strings.Contains(line, ": "), "expected compact separators")
	}
}

func TestReadEventsRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"event_id": "x", "bogus": 1}`+"\n"), 0o644))
	_, err := ReadEvents(path)
	assert.Error(t, err)
}

func TestReplayMatchesRecordedDecision(t *testing.T) {
	pol := testPolicy()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	// One ALLOW, one MODIFY, one DENY (kill switch).
	for i, qty := range []float64{10, 50, 10} {
		intent, portfolio, market, execution := testInputs(qty)
		if i == 2 {
			execution.KillSwitchActive = true
		}
		d := engine.Evaluate(intent, pol, portfolio, market, execution)
		ev := BuildEvent(d, intent, portfolio, market, execution, "hash123", "")
		require.NoError(t, WriteEvent(path, ev))
	}

	mismatched, err := VerifyLog(path, pol, "hash123")
	require.NoError(t, err)
	assert.Empty(t, mismatched)
}

func TestReplayRejectsHashMismatch(t *testing.T) {
	pol := testPolicy()
	intent, portfolio, market, execution := testInputs(10)
	d := engine.Evaluate(intent, pol, portfolio, market, execution)
	ev := BuildEvent(d, intent, portfolio, market, execution, "hash123", "")

	_, err := Replay(ev, pol, "otherhash")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPolicyHashMismatch)
}

func TestVerifyLogFlagsTamperedDecision(t *testing.T) {
	pol := testPolicy()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	intent, portfolio, market, execution := testInputs(10)
	d := engine.Evaluate(intent, pol, portfolio, market, execution)
	ev := BuildEvent(d, intent, portfolio, market, execution, "hash123", "")
	ev.Decision.Verdict = engine.VerdictDeny // tampered
	require.NoError(t, WriteEvent(path, ev))

	mismatched, err := VerifyLog(path, pol, "hash123")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, mismatched)
}

func TestDecisionsMatchIgnoresEvalMs(t *testing.T) {
	pol := testPolicy()
	intent, portfolio, market, execution := testInputs(10)
	a := engine.Evaluate(intent, pol, portfolio, market, execution)
	b := a
	a.EvalMs = 0.123
	b.EvalMs = 9.876
	assert.True(t, DecisionsMatch(a, b))

	b.Verdict = engine.VerdictDeny
	assert.False(t, DecisionsMatch(a, b))
}
