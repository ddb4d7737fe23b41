// Package engine implements the deterministic capital-policy evaluation
// pipeline: derived metrics, fixed-order rule checks, and the resulting
// ALLOW / MODIFY / DENY decisions.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/policygate/capital/internal/domain"
)

// Version identifies the engine in audit events. The rule set is fixed and
// versioned with the code.
const Version = "0.1.0"

// Verdict is the engine's decision about an intent.
type Verdict string

const (
	VerdictAllow  Verdict = "ALLOW"
	VerdictDeny   Verdict = "DENY"
	VerdictModify Verdict = "MODIFY"
)

func (v Verdict) Valid() bool {
	return v == VerdictAllow || v == VerdictDeny || v == VerdictModify
}

func (v *Verdict) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	vv := Verdict(raw)
	if !vv.Valid() {
		return fmt.Errorf("invalid decision %q (want ALLOW|DENY|MODIFY)", raw)
	}
	*v = vv
	return nil
}

// Severity grades a violation.
type Severity string

const (
	SeverityLow  Severity = "LOW"
	SeverityMed  Severity = "MED"
	SeverityHigh Severity = "HIGH"
	SeverityCrit Severity = "CRIT"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMed, SeverityHigh, SeverityCrit:
		return true
	}
	return false
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	sv := Severity(raw)
	if !sv.Valid() {
		return fmt.Errorf("invalid severity %q (want LOW|MED|HIGH|CRIT)", raw)
	}
	*s = sv
	return nil
}

// Violation records one fired rule. Inputs holds the thresholds consulted
// and Computed the metric values; together they make the violation
// reproducible.
type Violation struct {
	RuleID   string         `json:"rule_id"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Inputs   map[string]any `json:"inputs"`
	Computed map[string]any `json:"computed"`
}

// Evidence is one computed metric/limit pair attached to a decision for
// post-hoc audit.
type Evidence struct {
	Metric string `json:"metric"`
	Value  any    `json:"value"`
	Limit  any    `json:"limit"`
}

// Decision is the engine's verdict about an intent. EvalMs is the only
// field permitted to vary between evaluations of identical inputs; replay
// ignores it.
type Decision struct {
	Verdict             Verdict             `json:"decision"`
	IntentID            string              `json:"intent_id"`
	ModifiedIntent      *domain.OrderIntent `json:"modified_intent,omitempty"`
	Violations          []Violation         `json:"violations"`
	Evidence            []Evidence          `json:"evidence"`
	KillSwitchTriggered bool                `json:"kill_switch_triggered"`
	EvalMs              float64             `json:"eval_ms,omitempty"`
}

// HasRule reports whether a violation with the given rule ID is present.
func (d *Decision) HasRule(ruleID string) bool {
	for _, v := range d.Violations {
		if v.RuleID == ruleID {
			return true
		}
	}
	return false
}
