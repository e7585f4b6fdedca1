// Package ruleset provides the rules the pipeline evaluates readings against.
package ruleset

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/fieldalert/internal/model/entities"
)

// Static serves a fixed rule set.
type Static struct {
	rules []entities.Rule
}

// NewStatic copies rules. With no rules it serves the default set.
func NewStatic(rules ...entities.Rule) *Static {
	if len(rules) == 0 {
		rules = entities.DefaultRules()
	}
	cp := make([]entities.Rule, len(rules))
	copy(cp, rules)
	return &Static{rules: cp}
}

func (s *Static) GetRules(_ context.Context) ([]entities.Rule, error) {
	out := make([]entities.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

type fileRule struct {
	Kind        string   `yaml:"kind"`
	Threshold   *float64 `yaml:"threshold"`
	WindowHours *int     `yaml:"window_hours"`
	Enabled     *bool    `yaml:"enabled"`
}

type file struct {
	Rules []fileRule `yaml:"rules"`
}

// Parse reads a YAML rule set:
//
//	rules:
//	  - kind: Dryness
//	    threshold: 30
//	    window_hours: 24
//	    enabled: true
//
// enabled defaults to true. Each kind may appear once.
func Parse(data []byte) ([]entities.Rule, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("parse rules: no rules defined")
	}

	seen := make(map[entities.RuleKind]bool, len(f.Rules))
	rules := make([]entities.Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		kind, err := entities.ParseRuleKind(fr.Kind)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[kind] {
			return nil, fmt.Errorf("rule %d: duplicate kind %s", i, kind)
		}
		seen[kind] = true
		if fr.Threshold == nil || fr.WindowHours == nil {
			return nil, fmt.Errorf("rule %d (%s): threshold and window_hours are required", i, kind)
		}
		enabled := true
		if fr.Enabled != nil {
			enabled = *fr.Enabled
		}
		r, err := entities.NewRule(kind, *fr.Threshold, *fr.WindowHours, enabled)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, kind, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadFile parses the rule file at path. An empty path yields the default set.
func LoadFile(path string) (*Static, error) {
	if path == "" {
		return NewStatic(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewStatic(rules...), nil
}
