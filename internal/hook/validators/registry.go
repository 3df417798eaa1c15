package validators

import (
	"go.uber.org/zap"

	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/hook"
)

// ForConfig builds the full validator set from a configuration. The same
// function serves initial wiring and config-reload rebuilds.
func ForConfig(cfg *config.Config, logger *zap.Logger) []hook.Validator {
	if logger == nil {
		logger = zap.NewNop()
	}

	sanitizer, invalid := NewContextSanitizer(cfg.Sanitizer)
	for _, pattern := range invalid {
		logger.Warn("skipping invalid sensitive pattern", zap.String("pattern", pattern))
	}

	return []hook.Validator{
		sanitizer,
		NewShellValidator(cfg.Shell),
		NewSecurityScanner(cfg.Scanner),
	}
}
