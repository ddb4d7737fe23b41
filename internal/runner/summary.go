package runner

import (
	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
)

// RunSummary accumulates per-run statistics.
type RunSummary struct {
	RunID         string
	Total         int
	Counts        map[engine.Verdict]int
	RuleHistogram map[string]int
	Submitted     int
	Filled        int
}

// NewRunSummary returns an empty summary for a run.
func NewRunSummary(runID string) *RunSummary {
	return &RunSummary{
		RunID: runID,
		Counts: map[engine.Verdict]int{
			engine.VerdictAllow:  0,
			engine.VerdictModify: 0,
			engine.VerdictDeny:   0,
		},
		RuleHistogram: map[string]int{},
	}
}

// Record tallies one decision.
func (s *RunSummary) Record(d engine.Decision) {
	s.Total++
	s.Counts[d.Verdict]++
	for _, v := range d.Violations {
		s.RuleHistogram[v.RuleID]++
	}
}

// Summary is the JSON run summary. Map keys serialise sorted.
type Summary struct {
	TotalIntents     int                `json:"total_intents"`
	Decisions        map[string]int     `json:"decisions"`
	RuleHistogram    map[string]int     `json:"rule_histogram"`
	OrdersSubmitted  int                `json:"orders_submitted"`
	OrdersFilled     int                `json:"orders_filled"`
	FinalEquity      float64            `json:"final_equity"`
	FinalPositions   map[string]float64 `json:"final_positions"`
	KillSwitchActive bool               `json:"kill_switch_active"`
	RunID            string             `json:"run_id,omitempty"`
}

// Build produces the summary against the final portfolio and execution
// state.
func (s *RunSummary) Build(portfolio *domain.PortfolioState, execution *domain.ExecutionState) Summary {
	decisions := map[string]int{}
	for verdict, n := range s.Counts {
		decisions[string(verdict)] = n
	}
	positions := map[string]float64{}
	for sym, qty := range portfolio.Positions {
		positions[sym] = qty
	}
	hist := map[string]int{}
	for rule, n := range s.RuleHistogram {
		hist[rule] = n
	}
	return Summary{
		TotalIntents:     s.Total,
		Decisions:        decisions,
		RuleHistogram:    hist,
		OrdersSubmitted:  s.Submitted,
		OrdersFilled:     s.Filled,
		FinalEquity:      portfolio.Equity,
		FinalPositions:   positions,
		KillSwitchActive: execution.KillSwitchActive,
		RunID:            s.RunID,
	}
}
