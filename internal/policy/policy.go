// Package policy holds the capital policy document model and its strict
// loader. Policy DSL v0.1: strict schema, deterministic, fail-closed.
package policy

import (
	"fmt"
	"strings"
)

// Mode selects between enforcing decisions and monitor-only evaluation.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeMonitor Mode = "monitor"
)

// DecisionDefault is the default decision posture.
type DecisionDefault string

const (
	DecisionDeny  DecisionDefault = "deny"
	DecisionAllow DecisionDefault = "allow"
)

// ExposureLimits caps position size and portfolio exposure.
type ExposureLimits struct {
	MaxPositionPct    float64  `yaml:"max_position_pct" json:"max_position_pct"`
	MaxGrossExposureX float64  `yaml:"max_gross_exposure_x" json:"max_gross_exposure_x"`
	MaxNetExposureX   *float64 `yaml:"max_net_exposure_x,omitempty" json:"max_net_exposure_x,omitempty"`
}

func (e *ExposureLimits) validate(path string) error {
	if e.MaxPositionPct <= 0 || e.MaxPositionPct > 1 {
		return fmt.Errorf("%s.max_position_pct must be in (0, 1], got %v", path, e.MaxPositionPct)
	}
	if e.MaxGrossExposureX <= 0 {
		return fmt.Errorf("%s.max_gross_exposure_x must be > 0, got %v", path, e.MaxGrossExposureX)
	}
	if e.MaxNetExposureX != nil && *e.MaxNetExposureX <= 0 {
		return fmt.Errorf("%s.max_net_exposure_x must be > 0, got %v", path, *e.MaxNetExposureX)
	}
	return nil
}

// LossLimits caps daily loss and drawdown relative to equity marks.
type LossLimits struct {
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct"`
	MaxDrawdownPct    float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
}

func (l *LossLimits) validate(path string) error {
	if l.DailyLossLimitPct <= 0 || l.DailyLossLimitPct > 1 {
		return fmt.Errorf("%s.daily_loss_limit_pct must be in (0, 1], got %v", path, l.DailyLossLimitPct)
	}
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct > 1 {
		return fmt.Errorf("%s.max_drawdown_pct must be in (0, 1], got %v", path, l.MaxDrawdownPct)
	}
	return nil
}

// ExecutionLimits throttles order rates.
type ExecutionLimits struct {
	MaxOrdersPerMinuteGlobal     int `yaml:"max_orders_per_minute_global" json:"max_orders_per_minute_global"`
	MaxOrdersPerMinuteByStrategy int `yaml:"max_orders_per_minute_by_strategy" json:"max_orders_per_minute_by_strategy"`
}

func (e *ExecutionLimits) validate(path string) error {
	if e.MaxOrdersPerMinuteGlobal < 1 || e.MaxOrdersPerMinuteGlobal > 10000 {
		return fmt.Errorf("%s.max_orders_per_minute_global must be in [1, 10000], got %d", path, e.MaxOrdersPerMinuteGlobal)
	}
	if e.MaxOrdersPerMinuteByStrategy < 1 || e.MaxOrdersPerMinuteByStrategy > 10000 {
		return fmt.Errorf("%s.max_orders_per_minute_by_strategy must be in [1, 10000], got %d", path, e.MaxOrdersPerMinuteByStrategy)
	}
	return nil
}

// KillSwitchConfig configures hard and soft kill-switch trips.
type KillSwitchConfig struct {
	TripOnRules            []string `yaml:"trip_on_rules" json:"trip_on_rules"`
	TripAfterNViolations   int      `yaml:"trip_after_n_violations" json:"trip_after_n_violations"`
	ViolationWindowSeconds int      `yaml:"violation_window_seconds" json:"violation_window_seconds"`
}

const maxWindowSeconds = 365 * 24 * 3600

func (k *KillSwitchConfig) validate(path string) error {
	if k.TripAfterNViolations < 1 || k.TripAfterNViolations > 10000 {
		return fmt.Errorf("%s.trip_after_n_violations must be in [1, 10000], got %d", path, k.TripAfterNViolations)
	}
	if k.ViolationWindowSeconds < 1 || k.ViolationWindowSeconds > maxWindowSeconds {
		return fmt.Errorf("%s.violation_window_seconds must be in [1, %d], got %d", path, maxWindowSeconds, k.ViolationWindowSeconds)
	}
	return nil
}

// TripsOn reports whether a rule ID is configured as a hard trip.
func (k *KillSwitchConfig) TripsOn(ruleID string) bool {
	for _, r := range k.TripOnRules {
		if r == ruleID {
			return true
		}
	}
	return false
}

// Defaults holds the evaluation mode and default decision posture.
type Defaults struct {
	Mode     Mode            `yaml:"mode" json:"mode"`
	Decision DecisionDefault `yaml:"decision" json:"decision"`
}

func (d *Defaults) validate() error {
	if d.Mode != ModeEnforce && d.Mode != ModeMonitor {
		return fmt.Errorf("defaults.mode must be enforce|monitor, got %q", string(d.Mode))
	}
	if d.Decision != DecisionDeny && d.Decision != DecisionAllow {
		return fmt.Errorf("defaults.decision must be deny|allow, got %q", string(d.Decision))
	}
	return nil
}

// Limits groups the four limit families.
type Limits struct {
	Exposure   ExposureLimits   `yaml:"exposure" json:"exposure"`
	Loss       LossLimits       `yaml:"loss" json:"loss"`
	Execution  ExecutionLimits  `yaml:"execution" json:"execution"`
	KillSwitch KillSwitchConfig `yaml:"kill_switch" json:"kill_switch"`
}

// Override replaces one or more limit families for a symbol or strategy.
// Loss overrides are schema-valid but do not participate in v0.1
// evaluation; they are validated and preserved for forward compatibility.
type Override struct {
	Exposure  *ExposureLimits  `yaml:"exposure,omitempty" json:"exposure,omitempty"`
	Loss      *LossLimits      `yaml:"loss,omitempty" json:"loss,omitempty"`
	Execution *ExecutionLimits `yaml:"execution,omitempty" json:"execution,omitempty"`
}

func (o *Override) validate(path string) error {
	if o.Exposure != nil {
		if err := o.Exposure.validate(path + ".exposure"); err != nil {
			return err
		}
	}
	if o.Loss != nil {
		if err := o.Loss.validate(path + ".loss"); err != nil {
			return err
		}
	}
	if o.Execution != nil {
		if err := o.Execution.validate(path + ".execution"); err != nil {
			return err
		}
	}
	return nil
}

// Overrides holds per-symbol and per-strategy limit replacements.
type Overrides struct {
	Symbols    map[string]Override `yaml:"symbols,omitempty" json:"symbols,omitempty"`
	Strategies map[string]Override `yaml:"strategies,omitempty" json:"strategies,omitempty"`
}

// Policy is a validated capital policy document.
type Policy struct {
	Version   string    `yaml:"version" json:"version"`
	Timezone  string    `yaml:"timezone" json:"timezone"`
	Defaults  Defaults  `yaml:"defaults" json:"defaults"`
	Limits    Limits    `yaml:"limits" json:"limits"`
	Overrides Overrides `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// Validate enforces v0.1 schema bounds and normalises the timezone.
func (p *Policy) Validate() error {
	if p.Version != "0.1" {
		return fmt.Errorf("version must be \"0.1\", got %q", p.Version)
	}
	if !strings.EqualFold(p.Timezone, "UTC") {
		return fmt.Errorf("v0.1 requires timezone: UTC, got %q", p.Timezone)
	}
	p.Timezone = "UTC"
	if err := p.Defaults.validate(); err != nil {
		return err
	}
	if err := p.Limits.Exposure.validate("limits.exposure"); err != nil {
		return err
	}
	if err := p.Limits.Loss.validate("limits.loss"); err != nil {
		return err
	}
	if err := p.Limits.Execution.validate("limits.execution"); err != nil {
		return err
	}
	if err := p.Limits.KillSwitch.validate("limits.kill_switch"); err != nil {
		return err
	}
	for sym, ov := range p.Overrides.Symbols {
		ov := ov
		if err := ov.validate("overrides.symbols." + sym); err != nil {
			return err
		}
	}
	for sid, ov := range p.Overrides.Strategies {
		ov := ov
		if err := ov.validate("overrides.strategies." + sid); err != nil {
			return err
		}
	}
	return nil
}

// ResolveExposure returns the effective exposure limits for a
// (symbol, strategy) context. Precedence: symbol > strategy > defaults.
func (p *Policy) ResolveExposure(symbol, strategyID string) ExposureLimits {
	if ov, ok := p.Overrides.Symbols[symbol]; ok && ov.Exposure != nil {
		return *ov.Exposure
	}
	if ov, ok := p.Overrides.Strategies[strategyID]; ok && ov.Exposure != nil {
		return *ov.Exposure
	}
	return p.Limits.Exposure
}

// ResolveExecution returns the effective execution limits for a strategy.
// Precedence: strategy > defaults.
func (p *Policy) ResolveExecution(strategyID string) ExecutionLimits {
	if ov, ok := p.Overrides.Strategies[strategyID]; ok && ov.Execution != nil {
		return *ov.Execution
	}
	return p.Limits.Execution
}

// ResolveLoss returns the effective loss limits. v0.1 always evaluates the
// defaults; per-symbol/per-strategy loss overrides are preserved in the
// schema but do not resolve yet.
func (p *Policy) ResolveLoss() LossLimits {
	return p.Limits.Loss
}
