package audit

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/engine"
	"github.com/policygate/capital/internal/policy"
)

// ErrPolicyHashMismatch reports that the policy offered for replay is not
// the policy that produced the event.
var ErrPolicyHashMismatch = errors.New("policy hash mismatch")

// Replay reconstructs the inputs recorded in an audit event and re-runs
// the evaluator against a policy whose hash must equal the event's
// policy_hash. The returned decision must be logically equal to the
// recorded one (see DecisionsMatch).
func Replay(ev Event, pol *policy.Policy, policyHash string) (engine.Decision, error) {
	if policyHash != ev.PolicyHash {
		return engine.Decision{}, fmt.Errorf(
			"%w: event has %s, engine has %s", ErrPolicyHashMismatch, ev.PolicyHash, policyHash)
	}
	intent := ev.Intent
	portfolio := ev.PortfolioState
	market := ev.MarketSnapshot
	execution := ev.ExecutionState
	return engine.Evaluate(&intent, pol, &portfolio, &market, &execution), nil
}

// comparableDecision is the subset of Decision that participates in
// logical equality. eval_ms and anything else is excluded.
type comparableDecision struct {
	Verdict             engine.Verdict      `json:"decision"`
	IntentID            string              `json:"intent_id"`
	Violations          []engine.Violation  `json:"violations"`
	KillSwitchTriggered bool                `json:"kill_switch_triggered"`
	ModifiedIntent      *domain.OrderIntent `json:"modified_intent,omitempty"`
}

// DecisionsMatch compares two decisions for logical equality: verdict,
// intent_id, violations (including ordering), kill_switch_triggered, and
// modified_intent. The comparison runs over canonical JSON so that a
// freshly evaluated decision and one parsed back from an audit line
// compare equal.
func DecisionsMatch(a, b engine.Decision) bool {
	ca, errA := MarshalCanonical(comparableDecision{
		Verdict:             a.Verdict,
		IntentID:            a.IntentID,
		Violations:          a.Violations,
		KillSwitchTriggered: a.KillSwitchTriggered,
		ModifiedIntent:      a.ModifiedIntent,
	})
	cb, errB := MarshalCanonical(comparableDecision{
		Verdict:             b.Verdict,
		IntentID:            b.IntentID,
		Violations:          b.Violations,
		KillSwitchTriggered: b.KillSwitchTriggered,
		ModifiedIntent:      b.ModifiedIntent,
	})
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// VerifyLog replays every event in an audit log against a policy and
// returns the indexes (0-based) of events whose replayed decision does not
// match the recorded one. A hash mismatch fails the whole log.
func VerifyLog(path string, pol *policy.Policy, policyHash string) ([]int, error) {
	events, err := ReadEvents(path)
	if err != nil {
		return nil, err
	}
	var mismatched []int
	for i, ev := range events {
		replayed, err := Replay(ev, pol, policyHash)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if !DecisionsMatch(ev.Decision, replayed) {
			mismatched = append(mismatched, i)
		}
	}
	return mismatched, nil
}
