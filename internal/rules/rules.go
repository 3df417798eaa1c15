// Package rules supplies operator-defined validation rules that extend the
// built-in validator configuration: extra blocked paths, dangerous commands,
// and sensitive content patterns.
package rules

import "context"

// Rule types map onto the validator config lists they extend.
const (
	TypeBlockedPath      = "blocked_path"
	TypeDangerousCommand = "dangerous_command"
	TypeSensitivePattern = "sensitive_pattern"
	TypeAllowedCommand   = "allowed_command"
)

// Rule is one operator-defined rule.
type Rule struct {
	ID       string
	RuleType string
	Pattern  string
}

// Source supplies the current rule set.
type Source interface {
	Rules(ctx context.Context) ([]Rule, error)
}

// StaticSource serves a fixed rule set. Used when no rule database is
// configured, and in tests.
type StaticSource struct {
	rules []Rule
}

func NewStaticSource(rules []Rule) *StaticSource {
	return &StaticSource{rules: rules}
}

func (s *StaticSource) Rules(ctx context.Context) ([]Rule, error) {
	return s.rules, nil
}
