package rules

import "github.com/hookguard/hookguard/internal/config"

// Apply merges operator rules into a copy of the configuration. The input
// config is never mutated; unknown rule types are skipped.
func Apply(cfg *config.Config, ruleSet []Rule) *config.Config {
	if len(ruleSet) == 0 {
		return cfg
	}

	var blockedPaths, dangerous, sensitive, allowed []string
	for _, r := range ruleSet {
		switch r.RuleType {
		case TypeBlockedPath:
			blockedPaths = append(blockedPaths, r.Pattern)
		case TypeDangerousCommand:
			dangerous = append(dangerous, r.Pattern)
		case TypeSensitivePattern:
			sensitive = append(sensitive, r.Pattern)
		case TypeAllowedCommand:
			allowed = append(allowed, r.Pattern)
		}
	}

	next := *cfg
	if len(blockedPaths) > 0 {
		next.Sanitizer.BlockedPaths = appendCopy(cfg.Sanitizer.BlockedPaths, blockedPaths)
	}
	if len(sensitive) > 0 {
		next.Sanitizer.SensitivePatterns = appendCopy(cfg.Sanitizer.SensitivePatterns, sensitive)
	}
	if len(dangerous) > 0 {
		next.Shell.DangerousCommands = appendCopy(cfg.Shell.DangerousCommands, dangerous)
	}
	if len(allowed) > 0 {
		next.Shell.AllowedCommands = appendCopy(cfg.Shell.AllowedCommands, allowed)
	}
	return &next
}

func appendCopy(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
