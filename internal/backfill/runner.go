// Package backfill replays stored end-of-call reports through the pipeline,
// for calls that arrived while the service was down or before a catalog change.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/dedup"
	"github.com/MikeSquared-Agency/quill/internal/extractor"
	"github.com/MikeSquared-Agency/quill/internal/processor"
	"github.com/MikeSquared-Agency/quill/internal/slack"
)

// Config holds the replay command configuration.
type Config struct {
	Dir          string
	SingleFile   string // replay a single file only
	StatePath    string
	Since        time.Time
	Until        time.Time
	DryRun       bool // extract only; nothing is stored or pushed
	BatchSize    int
	Pause        time.Duration // wait between batches
	SlackToken   string        // optional: Slack bot token for batch summaries
	SlackChannel string        // optional: Slack channel for batch summaries
}

// ReportHandler runs one report through the full pipeline.
type ReportHandler interface {
	HandleCallReport(ctx context.Context, report processor.Report) (*processor.Result, error)
}

type textPoster interface {
	PostText(ctx context.Context, text string) (string, error)
}

// Runner orchestrates a replay.
type Runner struct {
	cfg       Config
	handler   ReportHandler
	extractor *extractor.Extractor
	slack     textPoster
	logger    *slog.Logger
}

// NewRunner creates a replay runner. handler may be nil for dry runs.
func NewRunner(cfg Config, handler ReportHandler, ext *extractor.Extractor, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	r := &Runner{
		cfg:       cfg,
		handler:   handler,
		extractor: ext,
		logger:    logger,
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		r.slack = slack.NewPoster(cfg.SlackToken, cfg.SlackChannel, ext.Catalog(), logger)
	}
	return r
}

// Run replays every report not yet processed and returns the totals.
func (r *Runner) Run(ctx context.Context) (Totals, error) {
	var totals Totals
	if !r.cfg.DryRun && r.handler == nil {
		return totals, errors.New("replay needs a report handler unless dry-run is set")
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return totals, fmt.Errorf("load state: %w", err)
	}

	files, err := r.files(state.Path())
	if err != nil {
		return totals, fmt.Errorf("discover files: %w", err)
	}

	var pending []string
	for _, f := range files {
		if !state.IsProcessed(f) {
			pending = append(pending, f)
		}
	}
	state.FilesRemaining = len(pending)
	r.logger.Info("files to replay", "total", len(files), "pending", len(pending), "dry_run", r.cfg.DryRun)

	var summaries []FileSummary
	inBatch := 0

	for _, path := range pending {
		if err := ctx.Err(); err != nil {
			r.logger.Info("replay interrupted, saving state")
			r.save(state)
			r.postBatchSummary(context.WithoutCancel(ctx), summaries)
			return totals, err
		}

		reports, err := ReadReports(path)
		if err != nil {
			r.logger.Warn("failed to read reports", "path", path, "error", err)
			state.AddError(err.Error())
			totals.Errors++
			continue
		}

		fs := FileSummary{Path: path}
		for _, report := range reports {
			if fs.Date == "" {
				fs.Date = reportDate(report)
			}
			if !r.inDateRange(report) || report.Call == nil {
				totals.Skipped++
				continue
			}
			r.replay(ctx, report, &fs, state)
			inBatch++

			if inBatch >= r.cfg.BatchSize {
				r.logger.Info("batch complete, saving state", "calls", totals.Calls+fs.Calls)
				r.save(state)
				r.postBatchSummary(ctx, summaries)
				summaries = nil
				inBatch = 0
				if r.cfg.Pause > 0 {
					select {
					case <-ctx.Done():
						return totals, ctx.Err()
					case <-time.After(r.cfg.Pause):
					}
				}
			}
		}

		totals.Files++
		totals.Calls += fs.Calls
		totals.Fields += fs.Fields
		totals.Duplicates += fs.Duplicates
		totals.Errors += fs.Errors
		summaries = append(summaries, fs)

		state.MarkProcessed(path)
		state.FilesRemaining--
		r.save(state)
	}

	r.postBatchSummary(ctx, summaries)
	r.logger.Info("replay complete",
		"files", totals.Files,
		"calls", totals.Calls,
		"fields", totals.Fields,
		"duplicates", totals.Duplicates,
		"errors", totals.Errors,
		"dry_run", r.cfg.DryRun,
	)
	return totals, nil
}

func (r *Runner) replay(ctx context.Context, report processor.Report, fs *FileSummary, state *ReplayState) {
	callID := report.Call.ID

	if r.cfg.DryRun {
		fields, err := r.extractor.Extract(ctx, report.SummaryText(), report.TranscriptPayload())
		if err != nil {
			state.AddError(fmt.Sprintf("extract %s: %v", callID, err))
			fs.Errors++
			return
		}
		fs.Calls++
		fs.Fields += len(fields)
		state.CallsProcessed++
		state.FieldsResolved += len(fields)
		r.logger.Info("call extracted", "call_id", callID, "fields", len(fields), "dry_run", true)
		return
	}

	res, err := r.handler.HandleCallReport(ctx, report)
	switch {
	case errors.Is(err, dedup.ErrDuplicate):
		fs.Duplicates++
		state.Duplicates++
	case err != nil:
		r.logger.Error("replay failed", "call_id", callID, "error", err)
		state.AddError(fmt.Sprintf("process %s: %v", callID, err))
		fs.Errors++
	default:
		fs.Calls++
		fs.Fields += len(res.Fields)
		state.CallsProcessed++
		state.FieldsResolved += len(res.Fields)
	}
}

func (r *Runner) files(statePath string) ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("single file not found: %s", path)
		}
		return []string{path}, nil
	}
	files, err := discoverFiles(expandHome(r.cfg.Dir))
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, f := range files {
		if f != statePath {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *Runner) save(state *ReplayState) {
	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save replay state", "path", state.Path(), "error", err)
	}
}

// inDateRange checks the call start time against the configured range.
// Calls without a parseable start time are always replayed.
func (r *Runner) inDateRange(report processor.Report) bool {
	if r.cfg.Since.IsZero() && r.cfg.Until.IsZero() {
		return true
	}
	started, ok := startedAt(report)
	if !ok {
		return true
	}
	if !r.cfg.Since.IsZero() && started.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && started.After(r.cfg.Until) {
		return false
	}
	return true
}

func startedAt(report processor.Report) (time.Time, bool) {
	if report.Call == nil || report.Call.StartedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, report.Call.StartedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func reportDate(report processor.Report) string {
	if t, ok := startedAt(report); ok {
		return t.UTC().Format("2006-01-02")
	}
	return ""
}

// postBatchSummary posts the batch summary to Slack, or logs it when Slack
// is not configured.
func (r *Runner) postBatchSummary(ctx context.Context, summaries []FileSummary) {
	if len(summaries) == 0 {
		return
	}

	text := FormatDailySummary(summaries)

	if r.slack == nil {
		r.logger.Info("replay batch summary (no Slack configured)", "summary", text)
		return
	}
	if _, err := r.slack.PostText(ctx, text); err != nil {
		r.logger.Warn("failed to post batch summary to Slack, logging instead",
			"error", err,
			"summary", text,
		)
	}
}

// FormatDailySummary formats file summaries grouped by call date.
func FormatDailySummary(summaries []FileSummary) string {
	byDate := make(map[string][]FileSummary)
	for _, s := range summaries {
		date := s.Date
		if date == "" {
			date = "unknown"
		}
		byDate[date] = append(byDate[date], s)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var sb strings.Builder
	sb.WriteString("*Replay Batch Summary*\n")

	for _, date := range dates {
		files := byDate[date]
		calls, fields := 0, 0
		for _, f := range files {
			calls += f.Calls
			fields += f.Fields
		}
		fmt.Fprintf(&sb, "\n*%s* (%d files, %d calls, %d fields)\n", date, len(files), calls, fields)
		for _, f := range files {
			fmt.Fprintf(&sb, "  - %s: %d calls, %d fields", filepath.Base(f.Path), f.Calls, f.Fields)
			if f.Duplicates > 0 {
				fmt.Fprintf(&sb, " (%d duplicates)", f.Duplicates)
			}
			if f.Errors > 0 {
				fmt.Fprintf(&sb, " (%d errors)", f.Errors)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
