package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// readingWith builds a reading whose measurement for kind is value; every
// other measurement is comfortably normal for the default rules.
func readingWith(t *testing.T, id string, ts time.Time, kind RuleKind, value float64) SensorReading {
	t.Helper()
	in := ReadingInput{
		ReadingID:       id,
		SensorID:        "s-1",
		FieldID:         "field-1",
		FarmID:          "farm-1",
		Timestamp:       ts,
		SoilMoisturePct: 50,
		SoilTempC:       15,
		AirTempC:        f64(20),
		AirHumidityPct:  f64(50),
	}
	switch kind {
	case RuleDryness:
		in.SoilMoisturePct = value
	case RuleExtremeHeat, RuleFrost:
		in.AirTempC = f64(value)
	case RuleDryAir, RuleHumidAir:
		in.AirHumidityPct = f64(value)
	}
	r, err := NewSensorReading(in)
	require.NoError(t, err)
	return r
}

func ruleOf(kind RuleKind) Rule {
	for _, r := range DefaultRules() {
		if r.Kind() == kind {
			return r
		}
	}
	panic("no default rule for " + string(kind))
}

type kindCase struct {
	kind     RuleKind
	abnormal float64
	normal   float64
}

var kindCases = []kindCase{
	{RuleDryness, 20, 40},
	{RuleExtremeHeat, 45, 30},
	{RuleFrost, -1, 10},
	{RuleDryAir, 10, 50},
	{RuleHumidAir, 95, 50},
}

func emptyContext() EvaluationContext {
	return NewEvaluationContext(nil, nil)
}

func TestEvaluate_FirstAbnormalOnlyStartsClock(t *testing.T) {
	for _, tc := range kindCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			ev, ok := EvaluatorFor(tc.kind)
			require.True(t, ok)
			assert.Equal(t, tc.kind, ev.Kind())

			d, ec := ev.Evaluate(readingWith(t, "r1", t0, tc.kind, tc.abnormal), ruleOf(tc.kind), emptyContext())

			assert.Equal(t, NoAction, d.Action)
			assert.Equal(t, t0, ec.LastNormal[tc.kind])
			assert.False(t, ec.Active[tc.kind])
		})
	}
}

func TestEvaluate_SustainedAbnormalRaisesOnce(t *testing.T) {
	for _, tc := range kindCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			ev, _ := EvaluatorFor(tc.kind)
			rule := ruleOf(tc.kind)
			window := time.Duration(rule.WindowHours()) * time.Hour

			_, ec := ev.Evaluate(readingWith(t, "r1", t0, tc.kind, tc.abnormal), rule, emptyContext())

			d, ec := ev.Evaluate(readingWith(t, "r2", t0.Add(window-time.Minute), tc.kind, tc.abnormal), rule, ec)
			assert.Equal(t, NoAction, d.Action, "window not yet elapsed")

			d, ec = ev.Evaluate(readingWith(t, "r3", t0.Add(window), tc.kind, tc.abnormal), rule, ec)
			require.Equal(t, RaiseAction, d.Action)
			assert.Contains(t, d.Reason, "for ")
			assert.Contains(t, d.Reason, " hours")
			assert.True(t, ec.Active[tc.kind])

			d, _ = ev.Evaluate(readingWith(t, "r4", t0.Add(window+time.Hour), tc.kind, tc.abnormal), rule, ec)
			assert.Equal(t, NoAction, d.Action, "already active")
		})
	}
}

func TestEvaluate_NormalResolvesActive(t *testing.T) {
	for _, tc := range kindCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			ev, _ := EvaluatorFor(tc.kind)
			ec := NewEvaluationContext(map[RuleKind]time.Time{tc.kind: t0}, map[RuleKind]bool{tc.kind: true})
			ts := t0.Add(48 * time.Hour)

			d, out := ev.Evaluate(readingWith(t, "r1", ts, tc.kind, tc.normal), ruleOf(tc.kind), ec)

			assert.Equal(t, ResolveAction, d.Action)
			assert.False(t, out.Active[tc.kind])
			assert.Equal(t, ts, out.LastNormal[tc.kind])
			assert.True(t, ec.Active[tc.kind], "input context is left untouched")
			assert.Equal(t, t0, ec.LastNormal[tc.kind])
		})
	}
}

func TestEvaluate_ThresholdIsNormal(t *testing.T) {
	for _, tc := range kindCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			ev, _ := EvaluatorFor(tc.kind)
			rule := ruleOf(tc.kind)
			assert.True(t, ev.IsConditionNormal(rule.Threshold(), rule.Threshold()))

			// Raising direction: sitting on the threshold for far longer than the window never alerts.
			ec := emptyContext()
			for i := 0; i < 4; i++ {
				var d Decision
				ts := t0.Add(time.Duration(i*rule.WindowHours()+i) * time.Hour)
				d, ec = ev.Evaluate(readingWith(t, "r", ts, tc.kind, rule.Threshold()), rule, ec)
				assert.Equal(t, NoAction, d.Action)
			}

			// Resolving direction: the threshold value resolves an active alert.
			active := NewEvaluationContext(map[RuleKind]time.Time{tc.kind: t0}, map[RuleKind]bool{tc.kind: true})
			d, _ := ev.Evaluate(readingWith(t, "r", t0.Add(time.Hour), tc.kind, rule.Threshold()), rule, active)
			assert.Equal(t, ResolveAction, d.Action)
		})
	}
}

func TestEvaluate_StrictHeatAndFrostComparators(t *testing.T) {
	heat := ExtremeHeatEvaluator{}
	assert.True(t, heat.IsConditionNormal(40, 40))
	assert.False(t, heat.IsConditionNormal(40.01, 40))
	assert.True(t, heat.IsConditionNormal(39.9, 40))

	frost := FrostEvaluator{}
	assert.True(t, frost.IsConditionNormal(2, 2))
	assert.False(t, frost.IsConditionNormal(1.99, 2))
	assert.True(t, frost.IsConditionNormal(2.1, 2))

	assert.True(t, DrynessEvaluator{}.IsConditionNormal(30, 30))
	assert.False(t, DrynessEvaluator{}.IsConditionNormal(29.9, 30))
	assert.True(t, DryAirEvaluator{}.IsConditionNormal(20, 20))
	assert.True(t, HumidAirEvaluator{}.IsConditionNormal(90, 90))
	assert.False(t, HumidAirEvaluator{}.IsConditionNormal(90.1, 90))
}

func TestEvaluate_AbsentMeasurementIsInapplicable(t *testing.T) {
	for _, kind := range []RuleKind{RuleExtremeHeat, RuleFrost, RuleDryAir, RuleHumidAir} {
		t.Run(string(kind), func(t *testing.T) {
			r, err := NewSensorReading(ReadingInput{
				ReadingID: "r1", SensorID: "s", FieldID: "field-1", FarmID: "farm-1",
				Timestamp: t0.Add(72 * time.Hour), SoilMoisturePct: 50, SoilTempC: 10,
			})
			require.NoError(t, err)

			ec := NewEvaluationContext(map[RuleKind]time.Time{kind: t0}, map[RuleKind]bool{kind: true})
			ev, _ := EvaluatorFor(kind)
			d, out := ev.Evaluate(r, ruleOf(kind), ec)

			assert.Equal(t, NoAction, d.Action)
			assert.Equal(t, t0, out.LastNormal[kind])
			assert.True(t, out.Active[kind])
		})
	}
}

func TestEvaluate_ReadingOlderThanLastNormalDoesNothing(t *testing.T) {
	ev := DrynessEvaluator{}
	ec := NewEvaluationContext(map[RuleKind]time.Time{RuleDryness: t0.Add(100 * time.Hour)}, nil)

	d, out := ev.Evaluate(readingWith(t, "r1", t0, RuleDryness, 5), ruleOf(RuleDryness), ec)

	assert.Equal(t, NoAction, d.Action)
	assert.Equal(t, t0.Add(100*time.Hour), out.LastNormal[RuleDryness])
}

func TestEvaluate_ReasonText(t *testing.T) {
	ev := DrynessEvaluator{}
	ec := NewEvaluationContext(map[RuleKind]time.Time{RuleDryness: t0}, nil)

	d, _ := ev.Evaluate(readingWith(t, "r1", t0.Add(30*time.Hour), RuleDryness, 20), ruleOf(RuleDryness), ec)
	require.Equal(t, RaiseAction, d.Action)
	assert.Equal(t, "soil moisture below 30% for 30 hours", d.Reason)

	heat := ExtremeHeatEvaluator{}
	ec = NewEvaluationContext(map[RuleKind]time.Time{RuleExtremeHeat: t0}, nil)
	d, _ = heat.Evaluate(readingWith(t, "r2", t0.Add(4*time.Hour+30*time.Minute), RuleExtremeHeat, 42), ruleOf(RuleExtremeHeat), ec)
	require.Equal(t, RaiseAction, d.Action)
	assert.Equal(t, "air temperature above 40°C for 4.5 hours", d.Reason)
}

func TestIsWindowExceeded(t *testing.T) {
	assert.True(t, IsWindowExceeded(t0, 24, t0.Add(24*time.Hour)))
	assert.True(t, IsWindowExceeded(t0, 0, t0))
	assert.False(t, IsWindowExceeded(t0, 24, t0.Add(23*time.Hour)))
	assert.False(t, IsWindowExceeded(t0, 0, t0.Add(-time.Second)))
}

func TestEvaluatorFor_Unknown(t *testing.T) {
	_, ok := EvaluatorFor("Hail")
	assert.False(t, ok)
}
