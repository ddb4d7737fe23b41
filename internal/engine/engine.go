package engine

import (
	"math"
	"time"

	"github.com/policygate/capital/internal/domain"
	"github.com/policygate/capital/internal/policy"
)

// Engine binds a loaded policy and its content hash, and measures
// evaluation latency. The policy is read-only after construction and may
// be shared freely.
type Engine struct {
	pol  *policy.Policy
	hash string
}

// New loads the policy file at path and returns an engine bound to it.
func New(policyPath string) (*Engine, error) {
	pol, hash, err := policy.Load(policyPath)
	if err != nil {
		return nil, err
	}
	return &Engine{pol: pol, hash: hash}, nil
}

// NewWithPolicy binds an already-loaded policy. Used by replay and tests.
func NewWithPolicy(pol *policy.Policy, hash string) *Engine {
	return &Engine{pol: pol, hash: hash}
}

// Policy returns the loaded policy.
func (e *Engine) Policy() *policy.Policy { return e.pol }

// PolicyHash returns the SHA-256 hex digest of the policy source.
func (e *Engine) PolicyHash() string { return e.hash }

// Evaluate runs the pipeline and stamps the measured latency onto the
// decision. EvalMs is the sole nondeterministic decision field; replay
// ignores it.
func (e *Engine) Evaluate(
	intent *domain.OrderIntent,
	portfolio *domain.PortfolioState,
	market *domain.MarketSnapshot,
	execution *domain.ExecutionState,
) Decision {
	t0 := time.Now()
	d := Evaluate(intent, e.pol, portfolio, market, execution)
	d.EvalMs = math.Round(float64(time.Since(t0).Nanoseconds())/1e6*1000) / 1000
	return d
}
