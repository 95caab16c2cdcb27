package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/quill/internal/backfill"
	"github.com/MikeSquared-Agency/quill/internal/config"
	"github.com/MikeSquared-Agency/quill/internal/crm"
	"github.com/MikeSquared-Agency/quill/internal/dedup"
	"github.com/MikeSquared-Agency/quill/internal/processor"
	"github.com/MikeSquared-Agency/quill/internal/secrets"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

var (
	rpDir       string
	rpFile      string
	rpStatePath string
	rpSince     string
	rpUntil     string
	rpDryRun    bool
	rpBatchSize int
	rpPause     time.Duration
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&rpDir, "dir", ".", "Directory of stored call reports (.json or .jsonl)")
	replayCmd.Flags().StringVar(&rpFile, "file", "", "Replay a single file")
	replayCmd.Flags().StringVar(&rpStatePath, "state", backfill.DefaultStatePath, "Progress file for resumable runs")
	replayCmd.Flags().StringVar(&rpSince, "since", "", "Only calls started on or after this date (YYYY-MM-DD)")
	replayCmd.Flags().StringVar(&rpUntil, "until", "", "Only calls started before the end of this date (YYYY-MM-DD)")
	replayCmd.Flags().BoolVar(&rpDryRun, "dry-run", false, "Extract only; store and push nothing")
	replayCmd.Flags().IntVar(&rpBatchSize, "batch-size", 50, "Calls per batch before saving state")
	replayCmd.Flags().DurationVar(&rpPause, "pause", 0, "Wait between batches, to spare the CRM rate limit")
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay stored end-of-call reports through the pipeline",
	Long: `Replay stored end-of-call reports through the pipeline.

Reports are read from .json files (one report) or .jsonl files (one report
per line). Progress is saved so an interrupted run resumes where it stopped.
Database, Redis, CRM and Slack settings come from the same environment as
the service.

Examples:
  # See what would be extracted
  quill-extract replay --dir ./reports --dry-run

  # Push September's calls to the CRM
  quill-extract replay --dir ./reports --since 2025-09-01 --until 2025-09-30`,
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()
	logger := newLogger()

	since, err := parseDay(rpSince, false)
	if err != nil {
		return err
	}
	until, err := parseDay(rpUntil, true)
	if err != nil {
		return err
	}

	ext, err := newExtractor()
	if err != nil {
		return err
	}

	var handler backfill.ReportHandler
	if !rpDryRun {
		deps := processor.Deps{}
		if cfg.DatabaseURL != "" {
			db, err := store.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()
			if err := db.EnsureSchema(ctx); err != nil {
				return err
			}
			deps.Store = db
		}
		if cfg.CRMEnabled() {
			tokens, err := replayTokens(cmd, cfg, logger)
			if err != nil {
				return err
			}
			deps.CRM = crm.NewClient(cfg.GHLBaseURL, cfg.GHLLocationID, tokens, logger)
		}

		var guard dedup.Guard = dedup.NewMemoryGuard(cfg.DedupTTL)
		if cfg.RedisAddr != "" {
			rg := dedup.NewRedisGuard(dedup.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, TTL: cfg.DedupTTL})
			defer rg.Close()
			guard = rg
		}
		handler = processor.New(ext, guard, deps, logger)
	}

	runner := backfill.NewRunner(backfill.Config{
		Dir:          rpDir,
		SingleFile:   rpFile,
		StatePath:    rpStatePath,
		Since:        since,
		Until:        until,
		DryRun:       rpDryRun,
		BatchSize:    rpBatchSize,
		Pause:        rpPause,
		SlackToken:   cfg.SlackBotToken,
		SlackChannel: cfg.SlackChannel,
	}, handler, ext, logger)

	totals, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		backfill.Totals
		DryRun bool `json:"dry_run"`
	}{totals, rpDryRun})
}

func replayTokens(cmd *cobra.Command, cfg config.Config, logger *slog.Logger) (crm.TokenSource, error) {
	if cfg.GHLTokenParam != "" {
		src, err := secrets.NewSSMTokenSource(cmd.Context(), cfg.AWSRegion, cfg.GHLTokenParam, 15*time.Minute, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return secrets.StaticTokenSource(cfg.GHLAPIToken), nil
}

// parseDay parses YYYY-MM-DD in UTC. With endOfDay the last instant of that
// day is returned.
func parseDay(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
