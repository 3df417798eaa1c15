// Package validators implements the hook validation engines: the context
// sanitizer, the shell command validator, and the security scanner.
package validators

import (
	"regexp"
	"strings"
)

// SecretPattern describes one credential shape. Hard patterns (private keys,
// cloud keys, VCS tokens) are treated as errors; the rest are secret-shaped
// warnings.
type SecretPattern struct {
	Name     string
	Pattern  *regexp.Regexp
	Hard     bool
	ScoreCap float64
}

// secretPatterns is shared by the sanitizer and the security scanner so both
// agree on what counts as a credential.
var secretPatterns = []SecretPattern{
	{"private key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), true, 0.3},
	{"AWS access key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), true, 0.3},
	{"AWS secret key", regexp.MustCompile(`(?i)aws[_\-\.]?(secret)?[_\-\.]?(access)?[_\-\.]?key['"]?\s*[:=]\s*['"][0-9A-Za-z/+]{40}['"]`), true, 0.3},
	{"GitHub token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`), true, 0.3},
	{"Slack token", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z\-]{10,}\b`), true, 0.3},
	{"Google API key", regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`), true, 0.3},
	{"Stripe live key", regexp.MustCompile(`\bsk_live_[0-9a-zA-Z]{24,}\b`), true, 0.3},
	{"SendGrid key", regexp.MustCompile(`\bSG\.[A-Za-z0-9_\-]{22}\.[A-Za-z0-9_\-]{43}\b`), true, 0.3},
	{"Mailgun key", regexp.MustCompile(`\bkey-[0-9a-z]{32}\b`), true, 0.3},

	{"API key assignment", regexp.MustCompile(`(?i)\bapi[_\-]?key['"]?\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}`), false, 0.6},
	{"bearer token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{20,}`), false, 0.6},
	{"JWT", regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\b`), false, 0.6},
	{"password assignment", regexp.MustCompile(`(?i)\b(password|passwd|pwd)['"]?\s*[:=]\s*['"][^'"]{6,}['"]`), false, 0.7},
	{"database connection string", regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s'"]*:[^\s'"]*@`), false, 0.6},
	{"generic secret assignment", regexp.MustCompile(`(?i)\b(secret|token|credential)s?['"]?\s*[:=]\s*['"][A-Za-z0-9_\-\.=+/]{12,}['"]`), false, 0.8},
}

// SecretFinding is one detected credential with its value already masked.
// The raw value never leaves this package.
type SecretFinding struct {
	Name     string
	Masked   string
	Hard     bool
	ScoreCap float64
}

// findSecrets scans text against the shared table plus any extra compiled
// patterns (configured sensitive patterns are always warnings).
func findSecrets(text string, extra []*regexp.Regexp) []SecretFinding {
	var findings []SecretFinding

	for _, p := range secretPatterns {
		if m := p.Pattern.FindString(text); m != "" {
			findings = append(findings, SecretFinding{
				Name:     p.Name,
				Masked:   MaskSecret(m),
				Hard:     p.Hard,
				ScoreCap: p.ScoreCap,
			})
		}
	}

	for _, re := range extra {
		if m := re.FindString(text); m != "" {
			findings = append(findings, SecretFinding{
				Name:     "configured sensitive pattern",
				Masked:   MaskSecret(m),
				Hard:     false,
				ScoreCap: 0.7,
			})
		}
	}

	return findings
}

// MaskSecret hides the middle of a secret, keeping the first and last four
// characters. Values of eight characters or fewer are fully starred.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// compilePatterns compiles configured regex strings, skipping invalid ones
// and reporting them back to the caller.
func compilePatterns(patterns []string) (compiled []*regexp.Regexp, invalid []string) {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			invalid = append(invalid, p)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled, invalid
}
