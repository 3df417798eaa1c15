package rules

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RuleStore abstracts DB queries for testability.
type RuleStore interface {
	ListEnabled(ctx context.Context) ([]Rule, error)
}

// sqlRuleStore is the real implementation using *sql.DB.
type sqlRuleStore struct {
	db *sql.DB
}

func (s *sqlRuleStore) ListEnabled(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, pattern
		FROM validation_rules
		WHERE enabled = true
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.RuleType, &r.Pattern); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// cachedRules is one materialized rule set with its expiry.
type cachedRules struct {
	rules     []Rule
	expiresAt time.Time
}

// PostgresSource fetches operator rules from the validation_rules table with
// a TTL cache and stale-while-revalidate: an expired set keeps serving while
// exactly one caller refreshes it in the background.
type PostgresSource struct {
	store      RuleStore
	ttl        time.Duration
	logger     *zap.Logger
	cached     atomic.Pointer[cachedRules]
	refreshing atomic.Bool
}

// PostgresSourceConfig configures the PostgresSource.
type PostgresSourceConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresSource creates a new PostgresSource.
func NewPostgresSource(cfg PostgresSourceConfig) *PostgresSource {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSource{
		store:  &sqlRuleStore{db: cfg.DB},
		ttl:    ttl,
		logger: logger,
	}
}

// NewPostgresSourceWithStore creates a source with a custom store (for testing).
func NewPostgresSourceWithStore(store RuleStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresSource {
	src := NewPostgresSource(PostgresSourceConfig{CacheTTL: cacheTTL, Logger: logger})
	src.store = store
	return src
}

func (s *PostgresSource) Rules(ctx context.Context) ([]Rule, error) {
	if entry := s.cached.Load(); entry != nil {
		if time.Now().Before(entry.expiresAt) {
			return entry.rules, nil
		}
		// Stale hit: serve it, one caller wins the background refresh.
		if s.refreshing.CompareAndSwap(false, true) {
			go s.refreshInBackground()
		}
		return entry.rules, nil
	}

	rules, err := s.store.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("Rules: %w", err)
	}
	s.cached.Store(&cachedRules{rules: rules, expiresAt: time.Now().Add(s.ttl)})
	return rules, nil
}

func (s *PostgresSource) refreshInBackground() {
	defer s.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rules, err := s.store.ListEnabled(ctx)
	if err != nil {
		s.logger.Warn("background rule refresh failed", zap.Error(err))
		return
	}
	s.cached.Store(&cachedRules{rules: rules, expiresAt: time.Now().Add(s.ttl)})
}
