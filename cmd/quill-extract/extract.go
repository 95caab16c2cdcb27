package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/quill/internal/extractor"
)

var (
	exSummary        string
	exSummaryFile    string
	exTranscriptFile string
	exCompact        bool
)

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVar(&exSummary, "summary", "", "Call summary text")
	extractCmd.Flags().StringVar(&exSummaryFile, "summary-file", "", "Read the call summary from a file (- for stdin)")
	extractCmd.Flags().StringVar(&exTranscriptFile, "transcript-file", "", "Transcript file: JSON messages or tagged text")
	extractCmd.Flags().BoolVar(&exCompact, "compact", false, "Print compact JSON")
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Resolve catalog fields from a summary and transcript",
	Long: `Resolve catalog fields from a call summary and an optional transcript.

Examples:
  # Summary only
  quill-extract extract --summary 'Seller wants $1.6 million by February.'

  # Summary and structured transcript
  quill-extract extract --summary-file summary.txt --transcript-file call.json

  # Summary from stdin
  cat summary.txt | quill-extract extract --summary-file -`,
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	if exSummary != "" && exSummaryFile != "" {
		return errors.New("--summary and --summary-file are mutually exclusive")
	}
	summary, err := readSummary(cmd.InOrStdin())
	if err != nil {
		return err
	}

	var transcript any
	if exTranscriptFile != "" {
		data, err := os.ReadFile(exTranscriptFile)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		transcript = json.RawMessage(data)
		if !json.Valid(data) {
			// Tagged plain text, e.g. "AI: ... User: ..."
			transcript = string(data)
		}
	}

	if summary == "" && transcript == nil {
		return errors.New("provide --summary, --summary-file or --transcript-file")
	}

	ext, err := newExtractor()
	if err != nil {
		return err
	}
	fields, err := ext.Extract(cmd.Context(), summary, transcript)
	if err != nil {
		return err
	}
	return printFields(cmd.OutOrStdout(), fields)
}

func readSummary(stdin io.Reader) (string, error) {
	switch exSummaryFile {
	case "":
		return exSummary, nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read summary: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(exSummaryFile)
		if err != nil {
			return "", fmt.Errorf("read summary: %w", err)
		}
		return string(data), nil
	}
}

func printFields(w io.Writer, fields extractor.FieldMap) error {
	enc := json.NewEncoder(w)
	if !exCompact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(fields)
}
