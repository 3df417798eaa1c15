package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Level controls how much of the validator set runs per intercepted call.
type Level string

const (
	LevelNone     Level = "none"     // validation disabled, everything bypassed
	LevelBasic    Level = "basic"    // essential validators only
	LevelStandard Level = "standard" // everything except performance-heavy validators
	LevelStrict   Level = "strict"   // full validator set, validator errors are fatal
)

// ParseLevel maps a case-insensitive string to a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelNone:
		return LevelNone, nil
	case LevelBasic:
		return LevelBasic, nil
	case LevelStandard:
		return LevelStandard, nil
	case LevelStrict:
		return LevelStrict, nil
	}
	return "", fmt.Errorf("unknown validation level %q", s)
}

// Config is the process-wide hook validation configuration. It is held as an
// explicit field on each orchestrator instance, not a hidden global.
type Config struct {
	Enabled             bool  `json:"enabled"`
	ValidationLevel     Level `json:"validation_level"`
	ProceedOnWarnings   bool  `json:"proceed_on_warnings"`
	GracefulDegradation bool  `json:"graceful_degradation"`

	Sanitizer   SanitizerConfig   `json:"sanitizer"`
	Shell       ShellConfig       `json:"shell_validator"`
	Scanner     ScannerConfig     `json:"security_scanner"`
	Performance PerfConfig        `json:"performance"`
	Feedback    FeedbackConfig    `json:"feedback"`
	Storage     StorageConfig     `json:"storage"`
	Rules       RulesConfig       `json:"rules"`
}

// SanitizerConfig tunes the context sanitizer.
type SanitizerConfig struct {
	Enabled           bool     `json:"enabled"`
	TimeoutMS         int      `json:"timeout_ms"`
	MaxContentBytes   int      `json:"max_content_bytes"`
	BlockedPaths      []string `json:"blocked_paths"`
	AllowedExtensions []string `json:"allowed_extensions"`
	AllowedDotfiles   []string `json:"allowed_dotfiles"`
	SensitivePatterns []string `json:"sensitive_patterns"`
}

// ShellConfig tunes the shell command validator.
type ShellConfig struct {
	Enabled           bool     `json:"enabled"`
	TimeoutMS         int      `json:"timeout_ms"`
	MaxCommandLength  int      `json:"max_command_length"`
	DangerousCommands []string `json:"dangerous_commands"`
	AllowedCommands   []string `json:"allowed_commands"`
	SandboxMode       bool     `json:"sandbox_mode"`
}

// ScanDepth controls which scanner heuristics run.
type ScanDepth string

const (
	DepthBasic    ScanDepth = "basic"
	DepthStandard ScanDepth = "standard"
	DepthDeep     ScanDepth = "deep"
)

// ScannerConfig tunes the security scanner.
type ScannerConfig struct {
	Enabled                bool      `json:"enabled"`
	TimeoutMS              int       `json:"timeout_ms"`
	VulnerabilityThreshold float64   `json:"vulnerability_threshold"`
	ScanDepth              ScanDepth `json:"scan_depth"`
	ScanXSS                bool      `json:"scan_xss"`
	ScanSQLInjection       bool      `json:"scan_sql_injection"`
	ScanCommandInjection   bool      `json:"scan_command_injection"`
	ScanPathTraversal      bool      `json:"scan_path_traversal"`
	ScanSecrets            bool      `json:"scan_secrets"`
	ScanMalware            bool      `json:"scan_malware"`
	ScanWeakCrypto         bool      `json:"scan_weak_crypto"`
}

// PerfConfig tunes the performance monitor.
type PerfConfig struct {
	Enabled          bool `json:"enabled"`
	SlowValidationMS int  `json:"slow_validation_ms"`
}

// FeedbackConfig tunes the realtime feedback broadcaster.
type FeedbackConfig struct {
	Enabled        bool   `json:"enabled"`
	BufferSize     int    `json:"buffer_size"`
	SSEEndpoint    string `json:"sse_endpoint"`
	APIKeyHash     string `json:"api_key_hash"`
	AllowAnonymous bool   `json:"allow_anonymous"`
}

// StorageConfig selects the audit event sink.
type StorageConfig struct {
	ClickHouseDSN string `json:"clickhouse_dsn"`
}

// RulesConfig selects the custom rule source.
type RulesConfig struct {
	PostgresDSN     string `json:"postgres_dsn"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Enabled:             true,
		ValidationLevel:     LevelStandard,
		ProceedOnWarnings:   true,
		GracefulDegradation: true,
		Sanitizer: SanitizerConfig{
			Enabled:         true,
			TimeoutMS:       2000,
			MaxContentBytes: 10 * 1024 * 1024,
			BlockedPaths: []string{
				"/.env", "/secrets/", "/.ssh/", "/.aws/", "/.gnupg/",
				"/etc/passwd", "/etc/shadow", "/etc/sudoers",
			},
			AllowedExtensions: []string{
				".go", ".py", ".js", ".ts", ".jsx", ".tsx", ".rs", ".c", ".h",
				".cpp", ".hpp", ".java", ".rb", ".sh", ".sql", ".html", ".css",
				".json", ".yaml", ".yml", ".toml", ".xml", ".md", ".txt", ".csv",
				".cfg", ".ini", ".conf", ".lock", ".mod", ".sum", ".proto",
			},
			AllowedDotfiles: []string{
				".gitignore", ".gitattributes", ".editorconfig", ".dockerignore",
				".prettierrc", ".eslintrc",
			},
		},
		Shell: ShellConfig{
			Enabled:          true,
			TimeoutMS:        2000,
			MaxCommandLength: 10000,
			DangerousCommands: []string{
				"rm -rf /", "rm -rf /*", "sudo rm", "dd if=", "mkfs",
				"chmod -r 777", "chmod -R 777", ":(){ :|:& };:", "> /dev/sda",
				"shutdown", "reboot", "halt", "init 0",
			},
		},
		Scanner: ScannerConfig{
			Enabled:                true,
			TimeoutMS:              5000,
			VulnerabilityThreshold: 0.7,
			ScanDepth:              DepthStandard,
			ScanXSS:                true,
			ScanSQLInjection:       true,
			ScanCommandInjection:   true,
			ScanPathTraversal:      true,
			ScanSecrets:            true,
			ScanMalware:            true,
			ScanWeakCrypto:         true,
		},
		Performance: PerfConfig{
			Enabled:          true,
			SlowValidationMS: 500,
		},
		Feedback: FeedbackConfig{
			Enabled:        true,
			BufferSize:     100,
			AllowAnonymous: true,
		},
		Rules: RulesConfig{
			CacheTTLSeconds: 60,
		},
	}
}

// Load reads a config file. On a missing or corrupt file it returns the
// defaults together with the error, so the caller can log a warning and
// keep running.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks internal consistency and returns human-readable issue
// strings. It never fails hard: an invalid config is reported, not thrown.
func (c *Config) Validate() []string {
	var issues []string

	if _, err := ParseLevel(string(c.ValidationLevel)); err != nil {
		issues = append(issues, fmt.Sprintf("validation_level: unknown value %q", c.ValidationLevel))
	}
	if c.Sanitizer.TimeoutMS <= 0 {
		issues = append(issues, "sanitizer.timeout_ms must be positive")
	}
	if c.Sanitizer.MaxContentBytes <= 0 {
		issues = append(issues, "sanitizer.max_content_bytes must be positive")
	}
	if c.Shell.TimeoutMS <= 0 {
		issues = append(issues, "shell_validator.timeout_ms must be positive")
	}
	if c.Shell.MaxCommandLength <= 0 {
		issues = append(issues, "shell_validator.max_command_length must be positive")
	}
	if c.Scanner.TimeoutMS <= 0 {
		issues = append(issues, "security_scanner.timeout_ms must be positive")
	}
	if c.Scanner.VulnerabilityThreshold < 0 || c.Scanner.VulnerabilityThreshold > 1 {
		issues = append(issues, fmt.Sprintf(
			"security_scanner.vulnerability_threshold must be in [0,1], got %v",
			c.Scanner.VulnerabilityThreshold))
	}
	switch c.Scanner.ScanDepth {
	case DepthBasic, DepthStandard, DepthDeep:
	default:
		issues = append(issues, fmt.Sprintf("security_scanner.scan_depth: unknown value %q", c.Scanner.ScanDepth))
	}
	if c.Feedback.BufferSize <= 0 {
		issues = append(issues, "feedback.buffer_size must be positive")
	}
	if c.Rules.CacheTTLSeconds <= 0 {
		issues = append(issues, "rules.cache_ttl_seconds must be positive")
	}

	return issues
}

// ApplyUpdates merges partial key/value updates into the config. Keys use
// dotted paths matching the JSON field names ("validation_level",
// "shell_validator.max_command_length"). The merge goes through the JSON
// representation so enum and numeric conversions stay consistent with the
// file format.
func (c *Config) ApplyUpdates(updates map[string]any) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("apply updates: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("apply updates: %w", err)
	}

	for key, value := range updates {
		if err := setPath(tree, strings.Split(key, "."), value); err != nil {
			return fmt.Errorf("apply updates: %s: %w", key, err)
		}
	}

	merged, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("apply updates: %w", err)
	}
	next := Default()
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("apply updates: %w", err)
	}
	*c = *next
	return nil
}

func setPath(tree map[string]any, path []string, value any) error {
	if len(path) == 1 {
		tree[path[0]] = value
		return nil
	}
	child, ok := tree[path[0]].(map[string]any)
	if !ok {
		return fmt.Errorf("no nested config block %q", path[0])
	}
	return setPath(child, path[1:], value)
}

// SanitizerTimeout returns the sanitizer timeout as a duration.
func (c *Config) SanitizerTimeout() time.Duration {
	return time.Duration(c.Sanitizer.TimeoutMS) * time.Millisecond
}

// ShellTimeout returns the shell validator timeout as a duration.
func (c *Config) ShellTimeout() time.Duration {
	return time.Duration(c.Shell.TimeoutMS) * time.Millisecond
}

// ScannerTimeout returns the security scanner timeout as a duration.
func (c *Config) ScannerTimeout() time.Duration {
	return time.Duration(c.Scanner.TimeoutMS) * time.Millisecond
}
