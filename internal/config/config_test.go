package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if issues := Default().Validate(); len(issues) != 0 {
		t.Fatalf("default config has issues: %v", issues)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"none", LevelNone, false},
		{"BASIC", LevelBasic, false},
		{" standard ", LevelStandard, false},
		{"strict", LevelStrict, false},
		{"paranoid", "", true},
	}

	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestValidateReportsIssues(t *testing.T) {
	cfg := Default()
	cfg.ValidationLevel = "paranoid"
	cfg.Sanitizer.TimeoutMS = 0
	cfg.Scanner.VulnerabilityThreshold = 1.5
	cfg.Scanner.ScanDepth = "exhaustive"
	cfg.Feedback.BufferSize = -1

	issues := cfg.Validate()
	if len(issues) != 5 {
		t.Fatalf("expected 5 issues, got %d: %v", len(issues), issues)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookguard.json")

	cfg := Default()
	cfg.ValidationLevel = LevelStrict
	cfg.Shell.MaxCommandLength = 4096
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ValidationLevel != LevelStrict {
		t.Fatalf("level = %v, want strict", loaded.ValidationLevel)
	}
	if loaded.Shell.MaxCommandLength != 4096 {
		t.Fatalf("max_command_length = %d, want 4096", loaded.Shell.MaxCommandLength)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg == nil || !cfg.Enabled {
		t.Fatal("missing file must still return usable defaults")
	}
}

func TestLoadCorruptFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err == nil {
		t.Fatal("expected error for corrupt file")
	}
	if cfg == nil || cfg.ValidationLevel != LevelStandard {
		t.Fatal("corrupt file must still return usable defaults")
	}
}

func TestApplyUpdates(t *testing.T) {
	cfg := Default()

	err := cfg.ApplyUpdates(map[string]any{
		"validation_level":                   "strict",
		"proceed_on_warnings":                false,
		"shell_validator.max_command_length": 2048,
		"security_scanner.scan_depth":        "deep",
	})
	if err != nil {
		t.Fatalf("ApplyUpdates: %v", err)
	}

	if cfg.ValidationLevel != LevelStrict {
		t.Fatalf("level = %v", cfg.ValidationLevel)
	}
	if cfg.ProceedOnWarnings {
		t.Fatal("proceed_on_warnings not applied")
	}
	if cfg.Shell.MaxCommandLength != 2048 {
		t.Fatalf("max_command_length = %d", cfg.Shell.MaxCommandLength)
	}
	if cfg.Scanner.ScanDepth != DepthDeep {
		t.Fatalf("scan_depth = %v", cfg.Scanner.ScanDepth)
	}
	// Untouched sections keep their defaults.
	if !cfg.Sanitizer.Enabled || cfg.Sanitizer.TimeoutMS != 2000 {
		t.Fatal("unrelated sections must be preserved")
	}
}

func TestApplyUpdatesUnknownBlock(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyUpdates(map[string]any{"no_such_block.field": 1}); err == nil {
		t.Fatal("expected error for unknown nested block")
	}
}
