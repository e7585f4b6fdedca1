package entities

import (
	"fmt"
	"math"
)

// RuleKind identifies both a rule and the kind of alert it raises.
type RuleKind string

const (
	RuleDryness     RuleKind = "Dryness"
	RuleExtremeHeat RuleKind = "ExtremeHeat"
	RuleFrost       RuleKind = "Frost"
	RuleDryAir      RuleKind = "DryAir"
	RuleHumidAir    RuleKind = "HumidAir"
)

// RuleKinds lists every kind, most critical first.
var RuleKinds = []RuleKind{RuleFrost, RuleExtremeHeat, RuleDryness, RuleDryAir, RuleHumidAir}

func ParseRuleKind(s string) (RuleKind, error) {
	for _, k := range RuleKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown rule kind %q", s)}
}

// Rule is an immutable threshold/window pair for one kind.
type Rule struct {
	kind        RuleKind
	threshold   float64
	windowHours int
	enabled     bool
}

func NewRule(kind RuleKind, threshold float64, windowHours int, enabled bool) (Rule, error) {
	if _, err := ParseRuleKind(string(kind)); err != nil {
		return Rule{}, err
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return Rule{}, &ValidationError{Field: "threshold", Reason: "must be a finite number"}
	}
	if windowHours < 0 {
		return Rule{}, &ValidationError{Field: "windowHours", Reason: fmt.Sprintf("must be >= 0, got %d", windowHours)}
	}
	return Rule{kind: kind, threshold: threshold, windowHours: windowHours, enabled: enabled}, nil
}

func (r Rule) Kind() RuleKind     { return r.kind }
func (r Rule) Threshold() float64 { return r.threshold }
func (r Rule) WindowHours() int   { return r.windowHours }
func (r Rule) Enabled() bool      { return r.enabled }

func (r Rule) String() string {
	return fmt.Sprintf("%s(threshold=%s, window=%dh, enabled=%t)", r.kind, formatNumber(r.threshold), r.windowHours, r.enabled)
}

func mustRule(kind RuleKind, threshold float64, windowHours int) Rule {
	r, err := NewRule(kind, threshold, windowHours, true)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		mustRule(RuleDryness, 30, 24),
		mustRule(RuleExtremeHeat, 40, 4),
		mustRule(RuleFrost, 2, 2),
		mustRule(RuleDryAir, 20, 6),
		mustRule(RuleHumidAir, 90, 12),
	}
}
