package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hookguard/hookguard/internal/auth"
	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/feedback"
	"github.com/hookguard/hookguard/internal/hook"
	"github.com/hookguard/hookguard/internal/hook/validators"
	"github.com/hookguard/hookguard/internal/perfmon"
	"github.com/hookguard/hookguard/internal/rules"
	"github.com/hookguard/hookguard/internal/server"
	"github.com/hookguard/hookguard/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "hookguard-server",
		Short:         "Hook validation orchestrator server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the validation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, listenAddr, logLevel)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "hookguard.json", "path to the configuration file")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8787", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", envOrDefault("HOOKGUARD_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	return cmd
}

func runServe(configPath, listenAddr, logLevel string) error {
	logger := mustBuildLogger(logLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Warn("config file unavailable, using defaults",
			zap.String("path", configPath),
			zap.Error(err),
		)
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		for _, issue := range issues {
			logger.Warn("config issue", zap.String("issue", issue))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Operator rules from Postgres, merged into the validator config.
	if cfg.Rules.PostgresDSN != "" {
		db, err := openPostgres(ctx, cfg.Rules.PostgresDSN)
		if err != nil {
			logger.Warn("postgres unavailable, operator rules disabled", zap.Error(err))
		} else {
			defer db.Close()
			source := rules.NewPostgresSource(rules.PostgresSourceConfig{
				DB:       db,
				CacheTTL: time.Duration(cfg.Rules.CacheTTLSeconds) * time.Second,
				Logger:   logger,
			})
			loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			ruleSet, err := source.Rules(loadCtx)
			cancel()
			if err != nil {
				logger.Warn("loading operator rules failed", zap.Error(err))
			} else {
				cfg = rules.Apply(cfg, ruleSet)
				logger.Info("operator rules loaded", zap.Int("count", len(ruleSet)))
			}
		}
	}

	// Storage: ClickHouse or log fallback.
	var writer storage.EventWriter
	if cfg.Storage.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.Storage.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no clickhouse DSN configured, using log writer")
	}
	defer writer.Close()

	broadcaster := feedback.NewBroadcaster(cfg.Feedback, logger)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	orch, err := hook.New(hook.Options{
		Config:     cfg,
		Validators: validators.ForConfig(cfg, logger),
		Rebuild: func(c *config.Config) []hook.Validator {
			return validators.ForConfig(c, logger)
		},
		Feedback: broadcaster,
		Writer:   writer,
		Perf:     perfmon.NewTracker(),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	hook.SetDefault(orch)

	// Hot reload on config file changes.
	watcher, err := config.NewWatcher(configPath, func() {
		if err := orch.ReloadConfig(configPath); err != nil {
			logger.Warn("config reload failed, keeping running config", zap.Error(err))
			return
		}
		broadcaster.SendSystemUpdate(map[string]any{"event": "config_reloaded"})
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		go watcher.Run(ctx)
	}

	authenticator := auth.ForConfig(cfg.Feedback, logger)
	srv := server.New(orch, broadcaster, authenticator, logger)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hookguard server listening", zap.String("addr", listenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		broadcaster.SendSystemUpdate(map[string]any{"event": "shutting_down"})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
