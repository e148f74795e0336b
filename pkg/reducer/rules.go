package reducer

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
)

type ToolMode string

const (
	ToolModeSnapshot ToolMode = "snapshot"
	ToolModeDelta    ToolMode = "delta"
)

// ToolRule routes results of tools whose name matches Pattern into domain
// state. Names are snake-cased before matching, so "createPlan",
// "CreatePlan" and "create-plan" all match "create_*". An empty Domain lets
// the payload shape decide.
type ToolRule struct {
	Pattern string   `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Mode    ToolMode `json:"mode" yaml:"mode" mapstructure:"mode"`
	Domain  string   `json:"domain,omitempty" yaml:"domain,omitempty" mapstructure:"domain"`
}

// ToolRules is an ordered rule list, first match wins.
type ToolRules struct {
	Rules []ToolRule `json:"rules" yaml:"rules" mapstructure:"rules"`
}

// DefaultToolRules treats create_* results as snapshots and update_* results
// as deltas.
func DefaultToolRules() *ToolRules {
	return &ToolRules{
		Rules: []ToolRule{
			{Pattern: "create_*", Mode: ToolModeSnapshot},
			{Pattern: "update_*", Mode: ToolModeDelta},
		},
	}
}

func NormalizeToolName(name string) string {
	return strcase.ToSnake(strings.TrimSpace(name))
}

func (r *ToolRules) Validate() error {
	if r == nil {
		return nil
	}
	for i, rule := range r.Rules {
		if rule.Pattern == "" {
			return errors.Errorf("tool rule %d has no pattern", i)
		}
		if _, err := glob.Match(rule.Pattern, "x"); err != nil {
			return errors.Wrapf(err, "tool rule %d has invalid pattern %q", i, rule.Pattern)
		}
		switch rule.Mode {
		case ToolModeSnapshot, ToolModeDelta:
		default:
			return errors.Errorf("tool rule %d has unknown mode %q", i, rule.Mode)
		}
	}
	return nil
}

// Match returns the first rule matching the tool name.
func (r *ToolRules) Match(name string) (ToolRule, bool) {
	if r == nil || name == "" {
		return ToolRule{}, false
	}
	normalized := NormalizeToolName(name)
	for _, rule := range r.Rules {
		ok, err := glob.Match(strings.ToLower(rule.Pattern), normalized)
		if err != nil || !ok {
			continue
		}
		return rule, true
	}
	return ToolRule{}, false
}
