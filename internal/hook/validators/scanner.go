package validators

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/hook"
)

// findingSeverity orders scanner findings.
type findingSeverity int

const (
	sevLow findingSeverity = iota
	sevMedium
	sevHigh
	sevCritical
)

func (s findingSeverity) String() string {
	switch s {
	case sevCritical:
		return "critical"
	case sevHigh:
		return "high"
	case sevMedium:
		return "medium"
	default:
		return "low"
	}
}

// finding is one scanner hit. Warnings (malware indicators, obfuscation,
// weak crypto) penalize the score more gently than vulnerabilities.
type finding struct {
	vulnType    string
	severity    findingSeverity
	description string
	warning     bool
}

// Multiplicative score factors. Independent findings compound toward zero
// rather than saturating a capped sum: two unrelated critical issues score
// worse than one.
var vulnFactors = map[findingSeverity]float64{
	sevCritical: 0.1,
	sevHigh:     0.3,
	sevMedium:   0.6,
	sevLow:      0.8,
}

var warnFactors = map[findingSeverity]float64{
	sevCritical: 0.5,
	sevHigh:     0.7,
	sevMedium:   0.85,
	sevLow:      0.95,
}

type scanPattern struct {
	re          *regexp.Regexp
	severity    findingSeverity
	description string
}

var xssPatterns = []scanPattern{
	{regexp.MustCompile(`(?i)<script\b`), sevHigh, "script tag"},
	{regexp.MustCompile(`(?i)javascript:`), sevHigh, "javascript: URL"},
	{regexp.MustCompile(`(?i)\bon(load|click|error|mouseover|focus|submit)\s*=`), sevMedium, "inline event handler"},
	{regexp.MustCompile(`(?i)<(iframe|object|embed)\b[^>]*src\s*=\s*["']?https?://`), sevHigh, "embedded external frame or object"},
	{regexp.MustCompile(`(?i)\beval\s*\(`), sevHigh, "eval() call"},
	{regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`), sevHigh, "Function constructor"},
	{regexp.MustCompile(`(?i)\bset(Timeout|Interval)\s*\(\s*["']`), sevMedium, "string-based timer"},
}

var sqlInjectionPatterns = []scanPattern{
	{regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`), sevCritical, "UNION SELECT"},
	{regexp.MustCompile(`(?i)'\s*OR\s*'1'\s*=\s*'1`), sevCritical, "tautology condition"},
	{regexp.MustCompile(`(?i)\bOR\s+1\s*=\s*1\b`), sevCritical, "tautology condition"},
	{regexp.MustCompile(`(?i)(--|#)\s*$`), sevMedium, "comment terminator"},
	{regexp.MustCompile(`(?i);\s*(DROP|DELETE|TRUNCATE|ALTER)\s+(TABLE|DATABASE|INDEX|FROM)\b`), sevCritical, "stacked DDL/DML statement"},
	{regexp.MustCompile(`(?i)\bINSERT\s+INTO\b.*\bVALUES\b`), sevMedium, "INSERT statement"},
	{regexp.MustCompile(`(?i)\bxp_cmdshell\b`), sevCritical, "xp_cmdshell"},
}

var cmdInjectionPatterns = []scanPattern{
	{regexp.MustCompile("(?:;|&&|\\|\\|)\\s*\\w"), sevHigh, "command separator"},
	{regexp.MustCompile("`[^`]+`"), sevCritical, "backtick substitution"},
	{regexp.MustCompile(`\$\([^)]+\)`), sevCritical, "$() substitution"},
	{regexp.MustCompile(`\$\{[^}]+\}`), sevMedium, "${} expansion"},
	{regexp.MustCompile(`(?i)\b(system|popen|exec[lv]?p?e?)\s*\(`), sevHigh, "process execution call"},
	{regexp.MustCompile(`(?i)\bsubprocess\.(run|call|Popen|check_output)\b`), sevHigh, "subprocess call"},
}

var traversalPatterns = []scanPattern{
	{regexp.MustCompile(`\.\./`), sevHigh, "parent-directory traversal"},
	{regexp.MustCompile(`\.\.\\`), sevHigh, "parent-directory traversal (windows)"},
	{regexp.MustCompile(`(?i)%2e%2e[%2f/\\]`), sevHigh, "percent-encoded traversal"},
	{regexp.MustCompile(`(?i)%252e%252e`), sevHigh, "double-encoded traversal"},
	{regexp.MustCompile(`(?i)\.\.%2f`), sevHigh, "mixed-encoding traversal"},
}

var malwarePatterns = []scanPattern{
	{regexp.MustCompile(`(?i)\b(keylogger|ransomware|botnet|backdoor|rootkit|cryptolocker)\b`), sevHigh, "malware keyword"},
	{regexp.MustCompile(`(?i)https?://(bit\.ly|tinyurl\.com|goo\.gl|t\.co|is\.gd)/`), sevMedium, "link shortener URL"},
	{regexp.MustCompile(`https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`), sevMedium, "raw IP address URL"},
	{regexp.MustCompile(`(?i)https?://(127\.0\.0\.1|localhost|0\.0\.0\.0)`), sevLow, "loopback URL"},
	{regexp.MustCompile(`(?i)https?://[^\s/]+\.(tk|ml|ga|cf|gq)\b`), sevMedium, "throwaway TLD"},
}

var obfuscationPatterns = []scanPattern{
	{regexp.MustCompile(`[A-Za-z0-9+/]{120,}={0,2}`), sevMedium, "long base64 blob"},
	{regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){6,}`), sevMedium, "hex-escaped byte run"},
	{regexp.MustCompile(`(?i)\bString\.fromCharCode\s*\(`), sevMedium, "character-code string construction"},
	{regexp.MustCompile(`(?i)\batob\s*\(`), sevLow, "base64 decode call"},
}

var weakCryptoPatterns = []scanPattern{
	{regexp.MustCompile(`(?i)\b(md5|sha1)\s*\(`), sevMedium, "weak hash function"},
	{regexp.MustCompile(`(?i)\b(md5|sha1)\.(new|sum|hexdigest)\b`), sevMedium, "weak hash function"},
	{regexp.MustCompile(`(?i)\b(des|rc4)\b.{0,20}\b(encrypt|cipher|mode)\b`), sevHigh, "weak cipher"},
	{regexp.MustCompile(`(?i)\bECB\b.{0,10}\bmode\b`), sevHigh, "ECB cipher mode"},
}

// Standard mitigations, one per vulnerability type. Emitted once per type
// present, not per finding.
var typeRecommendations = map[string]string{
	"xss":               "encode output and avoid injecting user input into markup or script contexts",
	"sql_injection":     "use parameterized queries instead of string-built SQL",
	"command_injection": "never pass user input to process execution; use argument arrays",
	"path_traversal":    "whitelist-validate paths and resolve them before use",
	"secret_exposure":   "remove hardcoded secrets and load them from the environment or a secret store",
	"malware_indicator": "review the flagged URL or keyword before allowing this content",
	"obfuscation":       "decode and review obfuscated content before accepting it",
	"weak_crypto":       "use a modern algorithm (SHA-256+, AES-GCM) instead of the flagged primitive",
}

// SecurityScanner runs the deep multi-category vulnerability scan. It is the
// highest-assurance signal, so its aggregation weight doubles the default.
type SecurityScanner struct {
	cfg config.ScannerConfig
}

// NewSecurityScanner builds a scanner from its config section.
func NewSecurityScanner(cfg config.ScannerConfig) *SecurityScanner {
	return &SecurityScanner{cfg: cfg}
}

func (s *SecurityScanner) Name() string { return "security_scanner" }

func (s *SecurityScanner) Handles(t hook.ToolType) bool { return t != hook.ToolRead }

func (s *SecurityScanner) Essential() bool { return true }
func (s *SecurityScanner) Heavy() bool     { return true }
func (s *SecurityScanner) Weight() float64 { return 2.0 }

func (s *SecurityScanner) Timeout() time.Duration {
	return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
}

func (s *SecurityScanner) Validate(ctx context.Context, call *hook.ToolCall) (*hook.ValidatorResult, error) {
	var findings []finding

	for _, target := range scanTargets(call) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		findings = append(findings, s.scan(target)...)
	}

	score := 1.0
	worst := sevLow
	haveCritical := false
	for _, f := range findings {
		factors := vulnFactors
		if f.warning {
			factors = warnFactors
		}
		score *= factors[f.severity]
		if f.severity > worst {
			worst = f.severity
		}
		if f.severity == sevCritical && !f.warning {
			haveCritical = true
		}
	}

	risk := riskFrom(worst, score)

	// The threshold alone is not sufficient: a critical finding fails the
	// scan even if compounding left the score above it.
	passed := score >= s.cfg.VulnerabilityThreshold && !haveCritical

	res := &hook.ValidatorResult{
		Passed:          passed,
		Score:           score,
		Risk:            risk,
		Recommendations: recommendationsFor(findings),
	}
	for _, f := range findings {
		msg := fmt.Sprintf("%s (%s): %s", f.vulnType, f.severity, f.description)
		if passed || f.warning {
			res.Warnings = append(res.Warnings, msg)
		} else {
			res.Errors = append(res.Errors, msg)
		}
	}
	if !passed {
		res.Severity = hook.SeverityError
	} else if len(findings) > 0 {
		res.Severity = hook.SeverityWarning
		res.Passed = false
	}
	return res, nil
}

// scanTargets collects every scannable string field of the call.
func scanTargets(call *hook.ToolCall) []string {
	var targets []string
	for _, v := range call.Parameters {
		if s, ok := v.(string); ok && s != "" {
			targets = append(targets, s)
		}
	}
	for _, edit := range call.Edits() {
		if edit.NewString != "" {
			targets = append(targets, edit.NewString)
		}
	}
	return targets
}

func (s *SecurityScanner) scan(target string) []finding {
	var findings []finding

	match := func(vulnType string, patterns []scanPattern, warning bool) {
		for _, p := range patterns {
			if p.re.MatchString(target) {
				findings = append(findings, finding{
					vulnType:    vulnType,
					severity:    p.severity,
					description: p.description,
					warning:     warning,
				})
			}
		}
	}

	if s.cfg.ScanXSS {
		match("xss", xssPatterns, false)
	}
	if s.cfg.ScanSQLInjection {
		match("sql_injection", sqlInjectionPatterns, false)
	}
	if s.cfg.ScanCommandInjection {
		match("command_injection", cmdInjectionPatterns, false)
	}
	if s.cfg.ScanPathTraversal {
		match("path_traversal", traversalPatterns, false)
	}
	if s.cfg.ScanSecrets {
		for _, f := range findSecrets(target, nil) {
			sev := sevCritical
			if !f.Hard {
				sev = sevMedium
			}
			findings = append(findings, finding{
				vulnType:    "secret_exposure",
				severity:    sev,
				description: f.Name + ": " + f.Masked,
			})
		}
	}

	deep := s.cfg.ScanDepth == config.DepthDeep
	standard := deep || s.cfg.ScanDepth == config.DepthStandard

	if s.cfg.ScanMalware && standard {
		match("malware_indicator", malwarePatterns, true)
	}
	if deep {
		match("obfuscation", obfuscationPatterns, true)
		if s.cfg.ScanWeakCrypto {
			match("weak_crypto", weakCryptoPatterns, true)
		}
	}

	return findings
}

func riskFrom(worst findingSeverity, score float64) hook.RiskLevel {
	switch {
	case worst == sevCritical || score < 0.3:
		return hook.RiskCritical
	case worst == sevHigh || score < 0.5:
		return hook.RiskHigh
	case score < 0.7 || worst == sevMedium:
		return hook.RiskMedium
	default:
		return hook.RiskLow
	}
}

// recommendationsFor emits one mitigation per distinct vulnerability type.
func recommendationsFor(findings []finding) []string {
	seen := make(map[string]bool)
	for _, f := range findings {
		seen[f.vulnType] = true
	}

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)

	var recs []string
	for _, t := range types {
		if rec, ok := typeRecommendations[t]; ok {
			recs = append(recs, rec)
		}
	}
	return recs
}
