package ruleset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

func TestStatic_DefaultsAndCopies(t *testing.T) {
	s := NewStatic()
	rules, err := s.GetRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultRules(), rules)

	rules[0] = entities.Rule{}
	again, _ := s.GetRules(context.Background())
	assert.Equal(t, entities.RuleDryness, again[0].Kind())
}

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(`
rules:
  - kind: Dryness
    threshold: 25
    window_hours: 12
  - kind: Frost
    threshold: 0.5
    window_hours: 1
    enabled: false
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, entities.RuleDryness, rules[0].Kind())
	assert.Equal(t, 25.0, rules[0].Threshold())
	assert.Equal(t, 12, rules[0].WindowHours())
	assert.True(t, rules[0].Enabled())
	assert.False(t, rules[1].Enabled())
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "rules: [",
		"empty":           "rules: []",
		"unknown kind":    "rules:\n  - kind: Hail\n    threshold: 1\n    window_hours: 1\n",
		"duplicate kind":  "rules:\n  - kind: Frost\n    threshold: 1\n    window_hours: 1\n  - kind: Frost\n    threshold: 2\n    window_hours: 1\n",
		"missing window":  "rules:\n  - kind: Frost\n    threshold: 1\n",
		"negative window": "rules:\n  - kind: Frost\n    threshold: 1\n    window_hours: -2\n",
		"nan threshold":   "rules:\n  - kind: Dryness\n    threshold: .nan\n    window_hours: 24\n",
		"inf threshold":   "rules:\n  - kind: ExtremeHeat\n    threshold: .inf\n    window_hours: 4\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_NonFiniteThreshold(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - kind: Dryness\n    threshold: .nan\n    window_hours: 24\n"))
	require.Error(t, err)
	assert.True(t, entities.IsValidation(err))
	assert.Contains(t, err.Error(), "threshold")
}

func TestLoadFile(t *testing.T) {
	s, err := LoadFile("")
	require.NoError(t, err)
	rules, _ := s.GetRules(context.Background())
	assert.Len(t, rules, 5)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - kind: HumidAir\n    threshold: 85\n    window_hours: 3\n"), 0o600))

	s, err = LoadFile(path)
	require.NoError(t, err)
	rules, _ = s.GetRules(context.Background())
	require.Len(t, rules, 1)
	assert.Equal(t, 85.0, rules[0].Threshold())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
