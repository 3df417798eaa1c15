package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hookguard/hookguard/internal/config"
)

// stubStore is a test helper that serves a fixed rule set and counts calls.
type stubStore struct {
	mu    sync.Mutex
	rules []Rule
	err   error
	calls int
}

func (s *stubStore) ListEnabled(ctx context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rules, nil
}

func (s *stubStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestApplyMergesRuleTypes(t *testing.T) {
	cfg := config.Default()
	baseBlocked := len(cfg.Sanitizer.BlockedPaths)
	baseDangerous := len(cfg.Shell.DangerousCommands)

	merged := Apply(cfg, []Rule{
		{ID: "1", RuleType: TypeBlockedPath, Pattern: "/vault/"},
		{ID: "2", RuleType: TypeDangerousCommand, Pattern: "drop database"},
		{ID: "3", RuleType: TypeSensitivePattern, Pattern: `ticket-\d{6}`},
		{ID: "4", RuleType: TypeAllowedCommand, Pattern: "terraform"},
		{ID: "5", RuleType: "unknown_type", Pattern: "ignored"},
	})

	if len(merged.Sanitizer.BlockedPaths) != baseBlocked+1 {
		t.Fatalf("blocked paths not merged: %v", merged.Sanitizer.BlockedPaths)
	}
	if len(merged.Shell.DangerousCommands) != baseDangerous+1 {
		t.Fatalf("dangerous commands not merged: %v", merged.Shell.DangerousCommands)
	}
	if len(merged.Sanitizer.SensitivePatterns) != 1 {
		t.Fatalf("sensitive patterns not merged: %v", merged.Sanitizer.SensitivePatterns)
	}
	if len(merged.Shell.AllowedCommands) != 1 {
		t.Fatalf("allowed commands not merged: %v", merged.Shell.AllowedCommands)
	}

	// The input config is untouched.
	if len(cfg.Sanitizer.BlockedPaths) != baseBlocked {
		t.Fatal("Apply mutated the input config")
	}
}

func TestApplyEmptyRuleSetReturnsInput(t *testing.T) {
	cfg := config.Default()
	if got := Apply(cfg, nil); got != cfg {
		t.Fatal("empty rule set should return the input unchanged")
	}
}

func TestPostgresSourceCachesRules(t *testing.T) {
	store := &stubStore{rules: []Rule{{ID: "1", RuleType: TypeBlockedPath, Pattern: "/vault/"}}}
	src := NewPostgresSourceWithStore(store, time.Minute, zap.NewNop())

	for i := 0; i < 5; i++ {
		rules, err := src.Rules(context.Background())
		if err != nil {
			t.Fatalf("Rules: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}
	}

	if got := store.callCount(); got != 1 {
		t.Fatalf("expected a single store query, got %d", got)
	}
}

func TestPostgresSourceStaleServesWhileRefreshing(t *testing.T) {
	store := &stubStore{rules: []Rule{{ID: "1", RuleType: TypeBlockedPath, Pattern: "/vault/"}}}
	src := NewPostgresSourceWithStore(store, time.Millisecond, zap.NewNop())

	if _, err := src.Rules(context.Background()); err != nil {
		t.Fatalf("Rules: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Stale: serves the old set immediately, refreshes in the background.
	rules, err := src.Rules(context.Background())
	if err != nil {
		t.Fatalf("stale Rules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("stale read should serve the cached set, got %d rules", len(rules))
	}

	deadline := time.Now().Add(time.Second)
	for store.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if store.callCount() < 2 {
		t.Fatal("background refresh never queried the store")
	}
}

func TestPostgresSourceErrorPropagatesOnColdCache(t *testing.T) {
	store := &stubStore{err: errors.New("connection refused")}
	src := NewPostgresSourceWithStore(store, time.Minute, zap.NewNop())

	if _, err := src.Rules(context.Background()); err == nil {
		t.Fatal("cold-cache failure must propagate")
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource([]Rule{{ID: "1", RuleType: TypeBlockedPath, Pattern: "/x/"}})
	rules, err := src.Rules(context.Background())
	if err != nil || len(rules) != 1 {
		t.Fatalf("got %v, %v", rules, err)
	}
}
