package backfill

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/processor"
)

// maxLine bounds a single JSONL record; reports with long transcripts run
// to several hundred kilobytes.
const maxLine = 8 << 20

// ReadReports reads the call reports stored in path. A .jsonl file holds one
// report per line; any other file holds a single report. Either form may be
// the webhook envelope or a bare report.
func ReadReports(path string) ([]processor.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if !strings.HasSuffix(path, ".jsonl") {
		report, err := processor.DecodeReport(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return []processor.Report{report}, nil
	}

	var reports []processor.Report
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		report, err := processor.DecodeReport(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s:%d: %w", path, line, err)
		}
		reports = append(reports, report)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return reports, nil
}

// discoverFiles lists the .json and .jsonl files under dir in lexical order.
func discoverFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext == ".json" || ext == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
