package validators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/hook"
)

// Content heuristics: these patterns inside file content are advisory only,
// since source files legitimately contain code that looks like all three.
var (
	contentSQLRe    = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP)\b\s+.*\b(FROM|INTO|TABLE|SET|WHERE)\b`)
	contentScriptRe = regexp.MustCompile(`(?i)(<script\b|javascript:|\bon(load|click|error|mouseover)\s*=)`)
	contentShellRe  = regexp.MustCompile("(?:\\$\\([^)]*\\)|`[^`]+`)")
)

// Filenames that are sensitive regardless of directory.
var sensitiveFilenames = map[string]bool{
	"passwd":      true,
	"shadow":      true,
	"sudoers":     true,
	"id_rsa":      true,
	"id_dsa":      true,
	"id_ecdsa":    true,
	"id_ed25519":  true,
	"credentials": true,
	"htpasswd":    true,
	".netrc":      true,
	".pgpass":     true,
}

// ContextSanitizer validates file-system-touching tool calls for path safety
// and content safety.
type ContextSanitizer struct {
	cfg      config.SanitizerConfig
	extra    []*regexp.Regexp
	allowExt map[string]bool
	allowDot map[string]bool
}

// NewContextSanitizer builds a sanitizer from its config section. Invalid
// configured sensitive patterns are skipped and returned for logging.
func NewContextSanitizer(cfg config.SanitizerConfig) (*ContextSanitizer, []string) {
	extra, invalid := compilePatterns(cfg.SensitivePatterns)

	allowExt := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowExt[strings.ToLower(ext)] = true
	}
	allowDot := make(map[string]bool, len(cfg.AllowedDotfiles))
	for _, name := range cfg.AllowedDotfiles {
		allowDot[strings.ToLower(name)] = true
	}

	return &ContextSanitizer{
		cfg:      cfg,
		extra:    extra,
		allowExt: allowExt,
		allowDot: allowDot,
	}, invalid
}

func (s *ContextSanitizer) Name() string { return "context_sanitizer" }

func (s *ContextSanitizer) Handles(t hook.ToolType) bool {
	switch t {
	case hook.ToolWrite, hook.ToolEdit, hook.ToolMultiEdit, hook.ToolRead:
		return true
	}
	return false
}

func (s *ContextSanitizer) Essential() bool  { return true }
func (s *ContextSanitizer) Heavy() bool      { return false }
func (s *ContextSanitizer) Weight() float64  { return 1.0 }

func (s *ContextSanitizer) Timeout() time.Duration {
	return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
}

// Bypass skips the sanitizer for trusted sources and read-only reads.
func (s *ContextSanitizer) Bypass(call *hook.ToolCall) (string, bool) {
	if call.MetaFlag("trusted_source") {
		return "trusted source", true
	}
	if call.ToolType == hook.ToolRead && call.MetaFlag("read_only") {
		return "read-only access", true
	}
	return "", false
}

// checkRun accumulates findings for one call. The score starts fully
// trusted and is only ever capped downward.
type checkRun struct {
	errors   []string
	warnings []string
	recs     []string
	score    float64
	risk     hook.RiskLevel
}

func (r *checkRun) cap(score float64) {
	if score < r.score {
		r.score = score
	}
}

func (r *checkRun) raise(risk hook.RiskLevel) {
	if risk > r.risk {
		r.risk = risk
	}
}

func (s *ContextSanitizer) Validate(ctx context.Context, call *hook.ToolCall) (*hook.ValidatorResult, error) {
	run := &checkRun{score: 1.0, risk: hook.RiskLow}

	isWrite := call.ToolType != hook.ToolRead
	s.checkPath(run, call.FilePath(), isWrite)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	switch call.ToolType {
	case hook.ToolWrite:
		s.checkContent(run, call.Content(), "")
	case hook.ToolEdit:
		s.checkContent(run, call.NewString(), "")
	case hook.ToolMultiEdit:
		for i, edit := range call.Edits() {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.checkContent(run, edit.NewString, fmt.Sprintf("edit %d: ", i))
		}
	}

	res := &hook.ValidatorResult{
		Passed:          len(run.errors) == 0 && len(run.warnings) == 0,
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

func (s *ContextSanitizer) checkPath(run *checkRun, path string, isWrite bool) {
	if path == "" {
		run.errors = append(run.errors, "missing file path")
		run.cap(0.2)
		run.raise(hook.RiskHigh)
		return
	}

	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			run.errors = append(run.errors, "path contains a parent-directory segment: "+path)
			run.recs = append(run.recs, "use absolute paths inside the workspace instead of traversal")
			run.cap(0.2)
			run.raise(hook.RiskCritical)
			return
		}
	}

	abs := path
	if !filepath.IsAbs(path) {
		resolved, err := filepath.Abs(path)
		if err == nil {
			abs = resolved
			if cwd, err := os.Getwd(); err == nil {
				if !strings.HasPrefix(abs+string(filepath.Separator), cwd+string(filepath.Separator)) {
					run.errors = append(run.errors, "relative path resolves outside the working directory: "+path)
					run.cap(0.2)
					run.raise(hook.RiskCritical)
				}
			}
		}
	}

	lowerAbs := strings.ToLower(filepath.ToSlash(abs))
	for _, blocked := range s.cfg.BlockedPaths {
		if strings.Contains(lowerAbs, strings.ToLower(blocked)) {
			run.errors = append(run.errors, "path matches blocked pattern "+blocked+": "+path)
			run.recs = append(run.recs, "sensitive locations must not be touched by automated tools")
			run.cap(0.2)
			run.raise(hook.RiskCritical)
		}
	}

	base := strings.ToLower(filepath.Base(path))
	if sensitiveFilenames[base] {
		run.errors = append(run.errors, "sensitive filename: "+base)
		run.cap(0.2)
		run.raise(hook.RiskCritical)
	}

	if !isWrite {
		return
	}

	if strings.HasPrefix(base, ".") {
		if !s.allowDot[base] {
			run.errors = append(run.errors, "writing to dot-file "+base+" is not allowed")
			run.recs = append(run.recs, "add the file to allowed_dotfiles if it is legitimately needed")
			run.cap(0.4)
			run.raise(hook.RiskHigh)
		}
		return
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext != "" && !s.allowExt[ext] {
		run.errors = append(run.errors, "file extension "+ext+" is not in the allow-list")
		run.cap(0.5)
		run.raise(hook.RiskMedium)
	}
}

func (s *ContextSanitizer) checkContent(run *checkRun, content, prefix string) {
	if len(content) > s.cfg.MaxContentBytes {
		run.errors = append(run.errors, fmt.Sprintf(
			"%scontent exceeds maximum size (%d > %d bytes)", prefix, len(content), s.cfg.MaxContentBytes))
		run.cap(0.4)
		run.raise(hook.RiskMedium)
		return
	}

	if strings.ContainsRune(content, 0) {
		run.errors = append(run.errors, prefix+"content contains NUL bytes (binary data)")
		run.cap(0.4)
		run.raise(hook.RiskMedium)
		return
	}

	for _, f := range findSecrets(content, s.extra) {
		if f.Hard {
			run.errors = append(run.errors, fmt.Sprintf("%s%s detected in content: %s", prefix, f.Name, f.Masked))
			run.recs = append(run.recs, "remove the credential and load it from the environment or a secret store")
			run.raise(hook.RiskCritical)
		} else {
			run.warnings = append(run.warnings, fmt.Sprintf("%spossible %s in content: %s", prefix, f.Name, f.Masked))
			run.raise(hook.RiskMedium)
		}
		run.cap(f.ScoreCap)
	}

	// Code-shaped content is only advisory.
	if contentSQLRe.MatchString(content) {
		run.warnings = append(run.warnings, prefix+"content contains SQL statement fragments")
		run.cap(0.8)
		run.raise(hook.RiskMedium)
	}
	if contentScriptRe.MatchString(content) {
		run.warnings = append(run.warnings, prefix+"content contains script or inline event-handler patterns")
		run.cap(0.8)
		run.raise(hook.RiskMedium)
	}
	if contentShellRe.MatchString(content) {
		run.warnings = append(run.warnings, prefix+"content contains shell command-substitution patterns")
		run.cap(0.8)
		run.raise(hook.RiskMedium)
	}
}
