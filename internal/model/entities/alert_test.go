package entities

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseAlert(t *testing.T) {
	a := RaiseAlert(RuleFrost, "farm-1", "field-1", "cold", t0)

	assert.NotEqual(t, [16]byte{}, [16]byte(a.ID))
	assert.Equal(t, AlertActive, a.Status)
	assert.True(t, a.IsActive())
	require.NotNil(t, a.Severity)
	assert.Equal(t, 1, *a.Severity)
	assert.Equal(t, t0, a.OccurredAt())
	assert.Nil(t, a.ResolvedAt)

	b := RaiseAlert(RuleFrost, "farm-1", "field-1", "cold", t0)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAlert_Resolve(t *testing.T) {
	a := RaiseAlert(RuleDryness, "farm-1", "field-1", "dry", t0)
	at := t0.Add(3 * time.Hour)

	a.Resolve(at)
	assert.Equal(t, AlertResolved, a.Status)
	assert.Equal(t, at, a.OccurredAt())

	a.Resolve(at.Add(time.Hour))
	assert.Equal(t, at, *a.ResolvedAt, "resolution is one-way and keeps the first time")
}

func TestAlert_ResolveDefaultsToNow(t *testing.T) {
	a := RaiseAlert(RuleDryAir, "farm-1", "field-1", "dry air", t0)
	before := time.Now()

	a.Resolve(time.Time{})

	require.NotNil(t, a.ResolvedAt)
	assert.False(t, a.ResolvedAt.Before(before.Add(-time.Second)))
}

func TestSeverityOf(t *testing.T) {
	want := map[RuleKind]int{RuleFrost: 1, RuleExtremeHeat: 2, RuleDryness: 3, RuleDryAir: 4, RuleHumidAir: 5}
	for kind, rank := range want {
		got, ok := SeverityOf(kind)
		assert.True(t, ok)
		assert.Equal(t, rank, got, string(kind))
	}
	_, ok := SeverityOf("Hail")
	assert.False(t, ok)
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 5)

	byKind := map[RuleKind]Rule{}
	for _, r := range rules {
		assert.True(t, r.Enabled())
		byKind[r.Kind()] = r
	}
	assert.Equal(t, 30.0, byKind[RuleDryness].Threshold())
	assert.Equal(t, 24, byKind[RuleDryness].WindowHours())
	assert.Equal(t, 40.0, byKind[RuleExtremeHeat].Threshold())
	assert.Equal(t, 4, byKind[RuleExtremeHeat].WindowHours())
	assert.Equal(t, 2.0, byKind[RuleFrost].Threshold())
	assert.Equal(t, 2, byKind[RuleFrost].WindowHours())
	assert.Equal(t, 20.0, byKind[RuleDryAir].Threshold())
	assert.Equal(t, 6, byKind[RuleDryAir].WindowHours())
	assert.Equal(t, 90.0, byKind[RuleHumidAir].Threshold())
	assert.Equal(t, 12, byKind[RuleHumidAir].WindowHours())
}

func TestNewRule_Validation(t *testing.T) {
	_, err := NewRule(RuleDryness, 30, -1, true)
	assert.True(t, IsValidation(err))

	_, err = NewRule("Hail", 1, 1, true)
	assert.True(t, IsValidation(err))

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err = NewRule(RuleDryness, bad, 24, true)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "threshold %v", bad)
		assert.Equal(t, "threshold", ve.Field)
	}

	r, err := NewRule(RuleFrost, 0.5, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "Frost(threshold=0.5, window=0h, enabled=false)", r.String())
}
