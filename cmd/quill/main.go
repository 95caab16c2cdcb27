package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/quill/internal/api"
	"github.com/MikeSquared-Agency/quill/internal/catalog"
	"github.com/MikeSquared-Agency/quill/internal/config"
	"github.com/MikeSquared-Agency/quill/internal/crm"
	"github.com/MikeSquared-Agency/quill/internal/dedup"
	"github.com/MikeSquared-Agency/quill/internal/extractor"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/processor"
	"github.com/MikeSquared-Agency/quill/internal/secrets"
	"github.com/MikeSquared-Agency/quill/internal/slack"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

const tokenTTL = 15 * time.Minute

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("quill starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog
	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load field catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	ext := extractor.New(cat, slog.Default())
	slog.Info("catalog loaded", "fields", cat.Len())

	m := metrics.New()
	deps := processor.Deps{Metrics: m}

	// Database (optional; runs are not persisted without it)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		deps.Store = db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, runs will not be stored")
	}

	// Dedup guard
	var guard dedup.Guard
	if cfg.RedisAddr != "" {
		rg := dedup.NewRedisGuard(dedup.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.DedupTTL,
		})
		defer rg.Close()
		if err := rg.Ping(ctx); err != nil {
			slog.Warn("redis unreachable at startup, claims will fail open", "addr", cfg.RedisAddr, "error", err)
		}
		guard = rg
		slog.Info("redis dedup ready", "addr", cfg.RedisAddr, "ttl", cfg.DedupTTL)
	} else {
		guard = dedup.NewMemoryGuard(cfg.DedupTTL)
		slog.Info("using in-memory dedup", "ttl", cfg.DedupTTL)
	}

	// CRM (optional; extraction still runs and is stored without it)
	if cfg.CRMEnabled() {
		tokens, err := tokenSource(ctx, cfg)
		if err != nil {
			slog.Error("failed to set up CRM token source", "error", err)
			os.Exit(1)
		}
		deps.CRM = crm.NewClient(cfg.GHLBaseURL, cfg.GHLLocationID, tokens, slog.Default())
		slog.Info("crm client ready", "base_url", cfg.GHLBaseURL)
	} else {
		slog.Warn("CRM not configured, fields will not be pushed")
	}

	// Slack poster (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Slack = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, cat, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	// NATS/Hermes (optional)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		deps.Hermes = hermesClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Processor
	proc := processor.New(ext, guard, deps, slog.Default())

	if hermesClient != nil {
		if err := hermesClient.Subscribe(hermes.SubjectCallReported, proc.HandleReportMessage); err != nil {
			slog.Error("failed to subscribe to call reports", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	apiDeps := api.Deps{
		Processor:     proc,
		Extractor:     ext,
		Metrics:       m,
		WebhookSecret: cfg.VapiSecret,
	}
	if db != nil {
		apiDeps.Runs = db
	}
	srv := api.NewServer(cfg.Port, apiDeps, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// Announce registration
	if hermesClient != nil {
		if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"fields":    cat.Len(),
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("quill ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	cancel()
	slog.Info("quill stopped")
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// tokenSource prefers the SSM parameter so the token can rotate without a
// restart.
func tokenSource(ctx context.Context, cfg config.Config) (crm.TokenSource, error) {
	if cfg.GHLTokenParam != "" {
		src, err := secrets.NewSSMTokenSource(ctx, cfg.AWSRegion, cfg.GHLTokenParam, tokenTTL, slog.Default())
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	if cfg.GHLAPIToken == "" {
		return nil, errors.New("no CRM token configured")
	}
	return secrets.StaticTokenSource(cfg.GHLAPIToken), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
