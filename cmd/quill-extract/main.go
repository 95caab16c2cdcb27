// Package main implements quill-extract, a CLI for running the field
// extraction engine outside the service.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
	"github.com/MikeSquared-Agency/quill/internal/extractor"
)

var (
	// catalogPath overrides the embedded field catalog
	catalogPath string
	verbose     bool
	version     = "dev"
)

func main() {
	// Cancelled on Ctrl-C so a replay saves its progress before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quill-extract",
	Short: "Extract CRM fields from call summaries and transcripts",
	Long: `quill-extract runs the field extraction engine locally.

It reads a call summary and an optional transcript, resolves the catalog
fields and prints the result as JSON. It can also replay stored
end-of-call reports through the full pipeline.`,
	Version:       version,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Field catalog YAML (defaults to the built-in catalog)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log extraction details to stderr")
}

func loadCatalog() (*catalog.Catalog, error) {
	if catalogPath == "" {
		return catalog.Default()
	}
	cat, err := catalog.LoadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newExtractor() (*extractor.Extractor, error) {
	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	return extractor.New(cat, newLogger()), nil
}
