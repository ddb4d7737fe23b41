package domain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validIntentJSON = `{
	"intent_id": "int-1",
	"timestamp": "2026-01-02T15:00:00Z",
	"strategy_id": "momentum-1",
	"account_id": "acct-1",
	"instrument": {"symbol": "AAPL", "asset_class": "equity"},
	"side": "buy",
	"order_type": "market",
	"qty": 10
}`

func TestParseIntentValid(t *testing.T) {
	intent, err := ParseIntent([]byte(validIntentJSON))
	require.NoError(t, err)
	assert.Equal(t, "int-1", intent.IntentID)
	assert.Equal(t, SideBuy, intent.Side)
	assert.Equal(t, OrderTypeMarket, intent.OrderType)
	assert.Equal(t, AssetEquity, intent.Instrument.AssetClass)
	assert.Nil(t, intent.LimitPrice)
}

func TestParseIntentRejectsUnknownFields(t *testing.T) {
	bad := `{"intent_id": "x", "mystery": 1}`
	_, err := ParseIntent([]byte(bad))
	assert.Error(t, err)
}

func TestParseIntentRejectsTrailingData(t *testing.T) {
	_, err := ParseIntent([]byte(validIntentJSON + `{"intent_id": "int-2"}`))
	assert.Error(t, err)
}

func TestParseIntentRejectsBadEnums(t *testing.T) {
	for _, bad := range []struct{ field, value string }{
		{`"side": "buy"`, `"side": "hold"`},
		{`"order_type": "market"`, `"order_type": "stop"`},
		{`"asset_class": "equity"`, `"asset_class": "bond"`},
	} {
		doc := replaceJSON(t, validIntentJSON, bad.field, bad.value)
		_, err := ParseIntent([]byte(doc))
		assert.Error(t, err, "expected rejection for %s", bad.value)
	}
}

func replaceJSON(t *testing.T, doc, from, to string) string {
	t.Helper()
	require.Contains(t, doc, from)
	return strings.Replace(doc, from, to, 1)
}

func TestParseIntentValidation(t *testing.T) {
	var intent OrderIntent
	require.NoError(t, json.Unmarshal([]byte(validIntentJSON), &intent))

	zeroQty := intent
	zeroQty.Qty = 0
	assert.Error(t, zeroQty.Validate())

	noID := intent
	noID.IntentID = ""
	assert.Error(t, noID.Validate())

	limitNoPrice := intent
	limitNoPrice.OrderType = OrderTypeLimit
	assert.Error(t, limitNoPrice.Validate())

	lp := 150.0
	limitWithPrice := limitNoPrice
	limitWithPrice.LimitPrice = &lp
	assert.NoError(t, limitWithPrice.Validate())

	negLimit := limitWithPrice
	neg := -1.0
	negLimit.LimitPrice = &neg
	assert.Error(t, negLimit.Validate())
}

func TestParsePortfolio(t *testing.T) {
	p, err := ParsePortfolio([]byte(`{
		"equity": 100000,
		"start_of_day_equity": 100000,
		"peak_equity": 100000
	}`))
	require.NoError(t, err)
	assert.NotNil(t, p.Positions)
	assert.Equal(t, 0.0, p.Position("AAPL"))

	_, err = ParsePortfolio([]byte(`{"equity": 0, "start_of_day_equity": 1, "peak_equity": 1}`))
	assert.Error(t, err)
}

func TestParseMarket(t *testing.T) {
	m, err := ParseMarket([]byte(`{"timestamp": "2026-01-02T15:00:00Z", "prices": {"AAPL": 200}}`))
	require.NoError(t, err)
	price, ok := m.Price("AAPL")
	assert.True(t, ok)
	assert.Equal(t, 200.0, price)
	_, ok = m.Price("TSLA")
	assert.False(t, ok)

	_, err = ParseMarket([]byte(`{"prices": {}}`))
	assert.Error(t, err)
}

func TestParseExecution(t *testing.T) {
	e, err := ParseExecution([]byte(`{
		"orders_last_60s_global": 3,
		"orders_last_60s_by_strategy": {"momentum-1": 2},
		"violations_last_window": [["2026-01-02T15:00:00Z", "EXP-001"]],
		"kill_switch_active": false
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, e.OrdersLast60sGlobal)
	assert.Equal(t, 2, e.StrategyOrders("momentum-1"))
	assert.Equal(t, 0, e.StrategyOrders("other"))
	require.Len(t, e.ViolationsLastWindow, 1)
	assert.Equal(t, "EXP-001", e.ViolationsLastWindow[0].RuleID)

	_, err = ParseExecution([]byte(`{"orders_last_60s_global": -1}`))
	assert.Error(t, err)
}

func TestWindowEntryWireFormat(t *testing.T) {
	entry := WindowEntry{Timestamp: "2026-01-02T15:00:00Z", RuleID: "EXP-001"}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `["2026-01-02T15:00:00Z", "EXP-001"]`, string(raw))

	var back WindowEntry
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, entry, back)

	assert.Error(t, json.Unmarshal([]byte(`["only-one"]`), &back))
	assert.Error(t, json.Unmarshal([]byte(`{"ts": "x"}`), &back))
}

func TestLoadIntentsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.jsonl")
	line2 := replaceJSON(t, validIntentJSON, `"intent_id": "int-1"`, `"intent_id": "int-2"`)
	content := compactLine(t, validIntentJSON) + "\n\n" + compactLine(t, line2) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	intents, err := LoadIntentsJSONL(path)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, "int-1", intents[0].IntentID)
	assert.Equal(t, "int-2", intents[1].IntentID)
}

func compactLine(t *testing.T, doc string) string {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}

func TestCloneIsDeep(t *testing.T) {
	lp := 150.0
	intent := OrderIntent{IntentID: "x", LimitPrice: &lp}
	clone := intent.Clone()
	*clone.LimitPrice = 999
	assert.Equal(t, 150.0, *intent.LimitPrice)

	p := PortfolioState{Equity: 1, Positions: map[string]float64{"AAPL": 1}}
	pc := p.Clone()
	pc.Positions["AAPL"] = 2
	assert.Equal(t, 1.0, p.Positions["AAPL"])

	e := NewExecutionState()
	e.OrdersLast60sByStrategy["s"] = 1
	e.ViolationsLastWindow = append(e.ViolationsLastWindow, WindowEntry{Timestamp: "t", RuleID: "r"})
	ec := e.Clone()
	ec.OrdersLast60sByStrategy["s"] = 9
	ec.ViolationsLastWindow[0].RuleID = "z"
	assert.Equal(t, 1, e.OrdersLast60sByStrategy["s"])
	assert.Equal(t, "r", e.ViolationsLastWindow[0].RuleID)
}
