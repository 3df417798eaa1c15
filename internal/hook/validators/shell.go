package validators

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/hook"
)

// Built-in safe commands accepted even when an allow-list is configured.
var builtinSafeCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "grep": true,
	"find": true, "pwd": true, "echo": true, "which": true, "file": true,
	"wc": true, "sort": true, "uniq": true, "diff": true, "stat": true,
	"git": true, "go": true, "npm": true, "npx": true, "yarn": true,
	"pip": true, "pip3": true, "python": true, "python3": true, "node": true,
	"make": true, "cargo": true, "mkdir": true, "touch": true, "cp": true,
	"mv": true, "env": true, "date": true, "whoami": true, "uname": true,
}

// Injection syntax is categorically more dangerous than any single risky
// command: chaining lets a benign prefix smuggle an arbitrary suffix.
var injectionSyntaxRe = regexp.MustCompile("(?:[;&|]|`|\\$\\(|\\$\\{)")

var systemDirs = []string{"/etc/", "/proc/", "/sys/", "/boot/", "/dev/", "/var/lib/", "/usr/lib/"}

// ShellValidator parses and validates Bash tool calls.
type ShellValidator struct {
	cfg config.ShellConfig

	allowed map[string]bool
}

// NewShellValidator builds a shell validator from its config section.
func NewShellValidator(cfg config.ShellConfig) *ShellValidator {
	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		allowed[strings.ToLower(c)] = true
	}
	return &ShellValidator{cfg: cfg, allowed: allowed}
}

func (v *ShellValidator) Name() string { return "shell_validator" }

func (v *ShellValidator) Handles(t hook.ToolType) bool { return t == hook.ToolBash }

func (v *ShellValidator) Essential() bool { return true }
func (v *ShellValidator) Heavy() bool     { return false }
func (v *ShellValidator) Weight() float64 { return 1.0 }

func (v *ShellValidator) Timeout() time.Duration {
	return time.Duration(v.cfg.TimeoutMS) * time.Millisecond
}

// Bypass skips validation for trusted commands and for sandboxed execution
// when sandbox mode is on.
func (v *ShellValidator) Bypass(call *hook.ToolCall) (string, bool) {
	if call.MetaFlag("trusted_command") {
		return "trusted command", true
	}
	if v.cfg.SandboxMode && call.MetaFlag("sandboxed") {
		return "sandboxed execution", true
	}
	return "", false
}

func (v *ShellValidator) Validate(ctx context.Context, call *hook.ToolCall) (*hook.ValidatorResult, error) {
	run := &checkRun{score: 1.0, risk: hook.RiskLow}
	command := call.Command()

	if len(command) > v.cfg.MaxCommandLength {
		run.errors = append(run.errors, fmt.Sprintf(
			"command exceeds maximum length (%d > %d)", len(command), v.cfg.MaxCommandLength))
		run.cap(0.5)
		run.raise(hook.RiskMedium)
	}

	if hasControlChars(command) {
		run.errors = append(run.errors, "command contains NUL or non-printable control characters")
		run.cap(0.3)
		run.raise(hook.RiskHigh)
	}

	lower := strings.ToLower(command)
	for _, dangerous := range v.cfg.DangerousCommands {
		if strings.Contains(lower, strings.ToLower(dangerous)) {
			run.errors = append(run.errors, "dangerous command pattern: "+dangerous)
			run.recs = append(run.recs, "destructive commands must be run manually, not through automation")
			run.cap(0.1)
			run.raise(hook.RiskCritical)
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for _, sub := range splitCommands(command) {
		tokens := tokenize(sub)
		if len(tokens) == 0 {
			continue
		}
		v.analyzeCommand(run, tokens)
	}

	// Applied last and unconditionally: injection syntax overrides whatever
	// the category analysis concluded.
	if injectionSyntaxRe.MatchString(command) {
		run.errors = append(run.errors, "command contains shell injection syntax (separator, substitution, or expansion)")
		run.recs = append(run.recs, "run each command separately instead of chaining or substituting")
		run.cap(0.3)
		run.risk = hook.RiskCritical
	}

	res := &hook.ValidatorResult{
		Passed:          true,
		Score:           run.score,
		Risk:            run.risk,
		Warnings:        run.warnings,
		Errors:          run.errors,
		Recommendations: run.recs,
	}
	if len(run.errors) > 0 {
		res.Passed = false
		res.Severity = hook.SeverityError
	} else if len(run.warnings) > 0 {
		res.Passed = false
		res.Severity = hook.SeverityWarning
	}
	return res, nil
}

// analyzeCommand inspects one tokenized sub-command.
func (v *ShellValidator) analyzeCommand(run *checkRun, tokens []string) {
	head := strings.ToLower(tokens[0])
	if idx := strings.LastIndexByte(head, '/'); idx >= 0 {
		head = head[idx+1:]
	}

	// sudo wraps the real command.
	elevated := false
	args := tokens[1:]
	if head == "sudo" && len(args) > 0 {
		elevated = true
		head = strings.ToLower(args[0])
		args = args[1:]
	}

	if len(v.allowed) > 0 && !v.allowed[head] && !builtinSafeCommands[head] {
		run.warnings = append(run.warnings, "command not in allow-list: "+head)
		run.cap(0.5)
		run.raise(hook.RiskHigh)
	}

	switch head {
	case "rm", "rmdir":
		v.analyzeRemove(run, args, elevated)
	case "chmod", "chown":
		v.analyzePermissions(run, head, args)
	case "curl", "wget", "nc", "ncat", "netcat":
		v.analyzeNetwork(run, head, args)
	case "kill", "pkill", "killall":
		for _, a := range args {
			if a == "-9" || strings.EqualFold(a, "-kill") || strings.EqualFold(a, "-sigkill") {
				run.warnings = append(run.warnings, head+" with SIGKILL does not allow graceful shutdown")
				run.cap(0.5)
				run.raise(hook.RiskHigh)
			}
		}
	case "npm", "yarn", "pnpm":
		for _, a := range args {
			if a == "-g" || a == "--global" || a == "global" {
				run.warnings = append(run.warnings, head+" global install modifies the system environment")
				run.cap(0.5)
				run.raise(hook.RiskHigh)
			}
		}
	case "pip", "pip3", "gem":
		if elevated && len(args) > 0 && args[0] == "install" {
			run.warnings = append(run.warnings, "elevated "+head+" install modifies the system environment")
			run.cap(0.5)
			run.raise(hook.RiskHigh)
		}
	case "docker":
		if len(args) > 0 && args[0] == "run" {
			run.warnings = append(run.warnings, "docker run starts a container with potential host access")
			run.cap(0.7)
			run.raise(hook.RiskMedium)
		}
	}

	for _, arg := range args {
		v.analyzeArgument(run, arg)
	}
}

// rootishPaths are delete targets that take down far more than a workspace.
var rootishPaths = map[string]bool{
	"/": true, "/*": true, "~": true, "~/": true, "$home": true,
	"/home": true, "/etc": true, "/usr": true, "/var": true, "/bin": true,
}

func (v *ShellValidator) analyzeRemove(run *checkRun, args []string, elevated bool) {
	recursive, force := false, false
	var targets []string

	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			flags := strings.ToLower(strings.TrimLeft(a, "-"))
			if strings.Contains(flags, "r") || flags == "recursive" {
				recursive = true
			}
			if strings.Contains(flags, "f") || flags == "force" {
				force = true
			}
			continue
		}
		targets = append(targets, a)
	}

	for _, t := range targets {
		if rootishPaths[strings.ToLower(t)] {
			if recursive && force {
				run.errors = append(run.errors, "recursive force delete of system path: "+t)
				run.cap(0.1)
				run.raise(hook.RiskCritical)
			} else {
				run.errors = append(run.errors, "delete targets system path: "+t)
				run.cap(0.3)
				run.raise(hook.RiskHigh)
			}
		}
	}

	if recursive && force && len(targets) > 0 {
		run.warnings = append(run.warnings, "recursive force delete: "+strings.Join(targets, " "))
		run.cap(0.6)
		run.raise(hook.RiskHigh)
	}
	if elevated {
		run.warnings = append(run.warnings, "elevated delete")
		run.cap(0.5)
		run.raise(hook.RiskHigh)
	}
}

func (v *ShellValidator) analyzePermissions(run *checkRun, head string, args []string) {
	for _, a := range args {
		switch a {
		case "777", "666":
			run.errors = append(run.errors, head+" "+a+" makes the target world-writable")
			run.recs = append(run.recs, "grant the narrowest permission bits that work, e.g. 644 or 755")
			run.cap(0.2)
			run.raise(hook.RiskCritical)
		case "755", "644":
			run.warnings = append(run.warnings, head+" "+a+" changes permissions, confirm the target is intended")
			run.cap(0.7)
			run.raise(hook.RiskMedium)
		}
	}
}

var urlRe = regexp.MustCompile(`(?i)\bhttps?://\S+`)
var localAddrRe = regexp.MustCompile(`(?i)\b(localhost|127\.0\.0\.1|0\.0\.0\.0)\b`)

func (v *ShellValidator) analyzeNetwork(run *checkRun, head string, args []string) {
	joined := strings.Join(args, " ")
	switch {
	case localAddrRe.MatchString(joined):
		run.warnings = append(run.warnings, head+" targets a local address")
		run.cap(0.5)
		run.raise(hook.RiskHigh)
	case urlRe.MatchString(joined):
		run.warnings = append(run.warnings, head+" fetches from a remote URL")
		run.cap(0.5)
		run.raise(hook.RiskHigh)
	default:
		run.warnings = append(run.warnings, "network tool invocation: "+head)
		run.cap(0.8)
		run.raise(hook.RiskMedium)
	}
}

func (v *ShellValidator) analyzeArgument(run *checkRun, arg string) {
	if strings.Contains(arg, "../") || strings.Contains(arg, `..\`) {
		run.warnings = append(run.warnings, "argument contains path traversal: "+arg)
		run.cap(0.5)
		run.raise(hook.RiskHigh)
	}
	for _, dir := range systemDirs {
		if strings.HasPrefix(arg, dir) {
			run.warnings = append(run.warnings, "argument touches system directory: "+arg)
			run.cap(0.7)
			run.raise(hook.RiskMedium)
			break
		}
	}
	if arg == "*" || arg == "/*" || arg == ".*" || strings.HasSuffix(arg, "/*") && strings.Count(arg, "/") <= 1 {
		run.warnings = append(run.warnings, "overly broad glob pattern: "+arg)
		run.cap(0.7)
		run.raise(hook.RiskMedium)
	}
}

// hasControlChars reports NUL or non-printable control characters.
// Tab, newline, and carriage return are legitimate in shell input.
func hasControlChars(s string) bool {
	for _, r := range s {
		if r == 0 {
			return true
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// splitCommands breaks a command line on control operators (`;`, `&&`, `||`,
// `&`) outside quotes, yielding the independent sub-commands.
func splitCommands(command string) []string {
	var subs []string
	var cur strings.Builder
	var quote rune

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			subs = append(subs, s)
		}
		cur.Reset()
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}

		switch r {
		case '\'', '"':
			quote = r
			cur.WriteRune(r)
		case ';':
			flush()
		case '&', '|':
			// "&&" and "||" consume both runes; single "&"/"|" also split.
			if i+1 < len(runes) && runes[i+1] == r {
				i++
			}
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return subs
}

// tokenize splits one sub-command into words with shell-aware quoting:
// single quotes are literal, double quotes group, backslash escapes the next
// character. An unterminated quote yields the remainder as one token.
func tokenize(command string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	escaped := false
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range command {
		if escaped {
			cur.WriteRune(r)
			inToken = true
			escaped = false
			continue
		}

		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == '\\':
			escaped = true
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	flush()
	return tokens
}
