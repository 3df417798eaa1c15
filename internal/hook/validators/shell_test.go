package validators

import (
	"context"
	"testing"

	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/hook"
)

func bashCall(command string) *hook.ToolCall {
	return hook.NewToolCall(hook.ToolBash, map[string]any{"command": command}, nil)
}

func newTestShellValidator() *ShellValidator {
	return NewShellValidator(config.Default().Shell)
}

func TestShellValidatorCleanCommand(t *testing.T) {
	v := newTestShellValidator()

	res, err := v.Validate(context.Background(), bashCall("ls -la /tmp"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("clean command should pass: errors=%v warnings=%v", res.Errors, res.Warnings)
	}
	if res.Score != 1.0 {
		t.Fatalf("score = %v, want 1.0", res.Score)
	}
}

func TestShellValidatorDangerousCommand(t *testing.T) {
	v := newTestShellValidator()

	res, err := v.Validate(context.Background(), bashCall("rm -rf /"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Passed {
		t.Fatal("rm -rf / must fail")
	}
	if res.Score > 0.1 {
		t.Fatalf("score = %v, want <= 0.1", res.Score)
	}
	if res.Risk != hook.RiskCritical {
		t.Fatalf("risk = %v, want critical", res.Risk)
	}
}

func TestShellValidatorInjectionIsCritical(t *testing.T) {
	v := newTestShellValidator()

	// A harmless prefix chained to a destructive suffix: injection syntax
	// must dominate whatever the per-command analysis concluded.
	cases := []string{
		"echo hi; rm -rf /tmp/x",
		"ls && cat /tmp/a",
		"cat $(find / -name secret)",
		"echo `whoami`",
		"echo ${PATH}",
	}

	for _, cmd := range cases {
		res, err := v.Validate(context.Background(), bashCall(cmd))
		if err != nil {
			t.Fatalf("Validate(%q): %v", cmd, err)
		}
		if res.Passed {
			t.Fatalf("injection syntax must fail: %q", cmd)
		}
		if res.Score > 0.3 {
			t.Fatalf("Validate(%q): score = %v, want <= 0.3", cmd, res.Score)
		}
		if res.Risk != hook.RiskCritical {
			t.Fatalf("Validate(%q): risk = %v, want critical", cmd, res.Risk)
		}
	}
}

func TestShellValidatorWorldWritablePermissions(t *testing.T) {
	v := newTestShellValidator()

	res, err := v.Validate(context.Background(), bashCall("chmod 777 /tmp/app"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Passed || res.Score > 0.2 {
		t.Fatalf("chmod 777 must fail hard: passed=%v score=%v", res.Passed, res.Score)
	}

	res, err = v.Validate(context.Background(), bashCall("chmod 644 /tmp/app"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Passed {
		t.Fatal("chmod 644 should warn")
	}
	if res.Severity != hook.SeverityWarning {
		t.Fatalf("chmod 644 should be a warning, got severity %v", res.Severity)
	}
}

func TestShellValidatorNetworkWarnings(t *testing.T) {
	v := newTestShellValidator()

	res, err := v.Validate(context.Background(), bashCall("curl https://example.com/install.sh"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Passed {
		t.Fatal("remote fetch should warn")
	}
	if len(res.Errors) != 0 {
		t.Fatalf("remote fetch alone is not an error: %v", res.Errors)
	}
}

func TestShellValidatorAllowList(t *testing.T) {
	cfg := config.Default().Shell
	cfg.AllowedCommands = []string{"terraform"}
	v := NewShellValidator(cfg)

	res, err := v.Validate(context.Background(), bashCall("terraform plan"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("allow-listed command should pass: %v", res.Warnings)
	}

	// Built-in safe commands are accepted alongside the allow-list.
	res, err = v.Validate(context.Background(), bashCall("git status"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("built-in safe command should pass: %v", res.Warnings)
	}

	res, err = v.Validate(context.Background(), bashCall("ansible-playbook deploy.yml"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Passed {
		t.Fatal("unlisted command should warn")
	}
}

func TestShellValidatorCommandLength(t *testing.T) {
	cfg := config.Default().Shell
	cfg.MaxCommandLength = 10
	v := NewShellValidator(cfg)

	res, err := v.Validate(context.Background(), bashCall("echo aaaaaaaaaaaaaaaaaaaa"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Passed {
		t.Fatal("over-length command must fail")
	}
}

func TestShellValidatorControlChars(t *testing.T) {
	v := newTestShellValidator()

	res, err := v.Validate(context.Background(), bashCall("echo hi\x00"))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Passed {
		t.Fatal("NUL byte must fail")
	}
}

func TestShellValidatorBypass(t *testing.T) {
	v := newTestShellValidator()

	call := hook.NewToolCall(hook.ToolBash, map[string]any{"command": "ls"},
		map[string]any{"trusted_command": true})
	if _, ok := v.Bypass(call); !ok {
		t.Fatal("trusted_command should bypass")
	}

	sandboxed := hook.NewToolCall(hook.ToolBash, map[string]any{"command": "ls"},
		map[string]any{"sandboxed": true})
	if _, ok := v.Bypass(sandboxed); ok {
		t.Fatal("sandboxed flag needs sandbox_mode enabled")
	}

	cfg := config.Default().Shell
	cfg.SandboxMode = true
	v2 := NewShellValidator(cfg)
	if _, ok := v2.Bypass(sandboxed); !ok {
		t.Fatal("sandboxed flag should bypass when sandbox_mode is on")
	}
}

func TestSplitCommands(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"ls", []string{"ls"}},
		{"ls; pwd", []string{"ls", "pwd"}},
		{"a && b || c", []string{"a", "b", "c"}},
		{"a | b", []string{"a", "b"}},
		{`echo "a; b"`, []string{`echo "a; b"`}},
		{"echo 'x && y'", []string{"echo 'x && y'"}},
	}

	for _, tc := range cases {
		got := splitCommands(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("splitCommands(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("splitCommands(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"ls -la", []string{"ls", "-la"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{"echo 'a b' c", []string{"echo", "a b", "c"}},
		{`cat file\ name`, []string{"cat", "file name"}},
		{"", nil},
		{"   ", nil},
	}

	for _, tc := range cases {
		got := tokenize(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("tokenize(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
