package entities

import (
	"fmt"
	"time"
)

type Action int

const (
	NoAction Action = iota
	RaiseAction
	ResolveAction
)

func (a Action) String() string {
	switch a {
	case RaiseAction:
		return "raise"
	case ResolveAction:
		return "resolve"
	default:
		return "none"
	}
}

// Decision is the outcome of evaluating one rule against one reading.
type Decision struct {
	Action Action
	Kind   RuleKind
	Reason string
}

// EvaluationContext is the working state of one processing cycle: when each
// condition was last seen normal and which kinds currently have an active alert.
// Evaluators never modify the context they receive; they return an updated copy.
type EvaluationContext struct {
	LastNormal map[RuleKind]time.Time
	Active     map[RuleKind]bool
}

func NewEvaluationContext(lastNormal map[RuleKind]time.Time, active map[RuleKind]bool) EvaluationContext {
	return EvaluationContext{LastNormal: lastNormal, Active: active}.Clone()
}

func (ec EvaluationContext) Clone() EvaluationContext {
	c := EvaluationContext{
		LastNormal: make(map[RuleKind]time.Time, len(ec.LastNormal)),
		Active:     make(map[RuleKind]bool, len(ec.Active)),
	}
	for k, v := range ec.LastNormal {
		c.LastNormal[k] = v
	}
	for k, v := range ec.Active {
		if v {
			c.Active[k] = true
		}
	}
	return c
}

// Evaluator decides, for a single rule kind, whether a reading raises or
// resolves an alert. Implementations are stateless.
type Evaluator interface {
	Kind() RuleKind
	Evaluate(r SensorReading, rule Rule, ec EvaluationContext) (Decision, EvaluationContext)
	IsConditionNormal(measured, threshold float64) bool
}

// EvaluatorFor returns the evaluator bound to kind.
func EvaluatorFor(kind RuleKind) (Evaluator, bool) {
	switch kind {
	case RuleDryness:
		return DrynessEvaluator{}, true
	case RuleExtremeHeat:
		return ExtremeHeatEvaluator{}, true
	case RuleFrost:
		return FrostEvaluator{}, true
	case RuleDryAir:
		return DryAirEvaluator{}, true
	case RuleHumidAir:
		return HumidAirEvaluator{}, true
	default:
		return nil, false
	}
}

// IsWindowExceeded reports whether now is at least windowHours after lastNormal.
// A now earlier than lastNormal never exceeds the window.
func IsWindowExceeded(lastNormal time.Time, windowHours int, now time.Time) bool {
	if now.Before(lastNormal) {
		return false
	}
	return now.Sub(lastNormal) >= time.Duration(windowHours)*time.Hour
}

// windowed is the evaluation algorithm shared by every kind.
type windowed struct {
	kind     RuleKind
	measured float64
	present  bool
	normal   func(measured, threshold float64) bool
	reason   func(threshold, hours float64) string
}

func (w windowed) evaluate(r SensorReading, rule Rule, in EvaluationContext) (Decision, EvaluationContext) {
	none := Decision{Action: NoAction, Kind: w.kind}
	if !w.present {
		return none, in
	}

	ec := in.Clone()
	now := r.Timestamp()

	if w.normal(w.measured, rule.Threshold()) {
		ec.LastNormal[w.kind] = now
		if ec.Active[w.kind] {
			delete(ec.Active, w.kind)
			return Decision{Action: ResolveAction, Kind: w.kind}, ec
		}
		return none, ec
	}

	lastNormal, seen := ec.LastNormal[w.kind]
	if !seen {
		ec.LastNormal[w.kind] = now
		return none, ec
	}
	if ec.Active[w.kind] || !IsWindowExceeded(lastNormal, rule.WindowHours(), now) {
		return none, ec
	}

	ec.Active[w.kind] = true
	hours := now.Sub(lastNormal).Hours()
	return Decision{Action: RaiseAction, Kind: w.kind, Reason: w.reason(rule.Threshold(), hours)}, ec
}

func reasonf(format string) func(threshold, hours float64) string {
	return func(threshold, hours float64) string {
		return fmt.Sprintf(format, formatNumber(threshold), formatNumber(hours))
	}
}

type DrynessEvaluator struct{}

func (DrynessEvaluator) Kind() RuleKind { return RuleDryness }

// IsConditionNormal: soil moisture at or above the threshold is normal.
func (DrynessEvaluator) IsConditionNormal(measured, threshold float64) bool {
	return measured >= threshold
}

func (e DrynessEvaluator) Evaluate(r SensorReading, rule Rule, ec EvaluationContext) (Decision, EvaluationContext) {
	return windowed{
		kind:     RuleDryness,
		measured: r.SoilMoisture().Value(),
		present:  true,
		normal:   e.IsConditionNormal,
		reason:   reasonf("soil moisture below %s%% for %s hours"),
	}.evaluate(r, rule, ec)
}

type ExtremeHeatEvaluator struct{}

func (ExtremeHeatEvaluator) Kind() RuleKind { return RuleExtremeHeat }

// IsConditionNormal: only a temperature strictly above the threshold is abnormal.
func (ExtremeHeatEvaluator) IsConditionNormal(measured, threshold float64) bool {
	return measured <= threshold
}

func (e ExtremeHeatEvaluator) Evaluate(r SensorReading, rule Rule, ec EvaluationContext) (Decision, EvaluationContext) {
	t, ok := r.AirTemperature()
	return windowed{
		kind:     RuleExtremeHeat,
		measured: t.Value(),
		present:  ok,
		normal:   e.IsConditionNormal,
		reason:   reasonf("air temperature above %s°C for %s hours"),
	}.evaluate(r, rule, ec)
}

type FrostEvaluator struct{}

func (FrostEvaluator) Kind() RuleKind { return RuleFrost }

// IsConditionNormal: only a temperature strictly below the threshold is abnormal.
func (FrostEvaluator) IsConditionNormal(measured, threshold float64) bool {
	return measured >= threshold
}

func (e FrostEvaluator) Evaluate(r SensorReading, rule Rule, ec EvaluationContext) (Decision, EvaluationContext) {
	t, ok := r.AirTemperature()
	return windowed{
		kind:     RuleFrost,
		measured: t.Value(),
		present:  ok,
		normal:   e.IsConditionNormal,
		reason:   reasonf("air temperature below %s°C for %s hours"),
	}.evaluate(r, rule, ec)
}

type DryAirEvaluator struct{}

func (DryAirEvaluator) Kind() RuleKind { return RuleDryAir }

func (DryAirEvaluator) IsConditionNormal(measured, threshold float64) bool {
	return measured >= threshold
}

func (e DryAirEvaluator) Evaluate(r SensorReading, rule Rule, ec EvaluationContext) (Decision, EvaluationContext) {
	h, ok := r.AirHumidity()
	return windowed{
		kind:     RuleDryAir,
		measured: h.Value(),
		present:  ok,
		normal:   e.IsConditionNormal,
		reason:   reasonf("air humidity below %s%% for %s hours"),
	}.evaluate(r, rule, ec)
}

type HumidAirEvaluator struct{}

func (HumidAirEvaluator) Kind() RuleKind { return RuleHumidAir }

func (HumidAirEvaluator) IsConditionNormal(measured, threshold float64) bool {
	return measured <= threshold
}

func (e HumidAirEvaluator) Evaluate(r SensorReading, rule Rule, ec EvaluationContext) (Decision, EvaluationContext) {
	h, ok := r.AirHumidity()
	return windowed{
		kind:     RuleHumidAir,
		measured: h.Value(),
		present:  ok,
		normal:   e.IsConditionNormal,
		reason:   reasonf("air humidity above %s%% for %s hours"),
	}.evaluate(r, rule, ec)
}
