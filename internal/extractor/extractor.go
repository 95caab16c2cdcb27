package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

// Extractor resolves catalog fields from a call summary and transcript. It
// holds no per-call state and may be shared between goroutines.
type Extractor struct {
	catalog        *catalog.Catalog
	logger         *slog.Logger
	clock          func() time.Time
	cleaner        *Cleaner
	summaryCleaner *Cleaner
	quoted         map[catalog.FieldKey][]*regexp.Regexp
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the time source used for system and digest fields.
func WithClock(clock func() time.Time) Option {
	return func(e *Extractor) { e.clock = clock }
}

func New(cat *catalog.Catalog, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		catalog:        cat,
		logger:         logger,
		clock:          time.Now,
		cleaner:        NewCleaner(),
		summaryCleaner: NewCleaner("Olivia", "They", "Jack"),
		quoted:         phrasingPatterns(cat),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) Catalog() *catalog.Catalog { return e.catalog }

// Extract runs one extraction. Transcript answers win over summary rules,
// which win over fallback rules; a key is never overwritten once resolved.
// The transcript may be anything transcript.Normalize accepts.
//
// Any internal failure is reported as ErrExtraction with a nil map.
func (e *Extractor) Extract(ctx context.Context, summary string, transcriptPayload any) (fm FieldMap, err error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(ErrExtraction, err)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction panicked", "panic", r)
			fm, err = nil, errors.Join(ErrExtraction, fmt.Errorf("panic: %v", r))
		}
	}()

	now := e.clock()
	fields := make(FieldMap, e.catalog.Len()+3)

	turns := transcript.Normalize(transcriptPayload, e.catalog.Speakers())
	e.fromTranscript(turns, fields)
	e.fromSummary(summary, fields)
	e.fromFallback(summary, fields)

	for k, v := range SystemFields(summary, now) {
		fields[k] = v
	}

	if v, ok := Digest(fields, now); ok {
		fields.claim(KeyVoiceMemory, v)
	}

	counts := fields.CountBySource()
	e.logger.Info("extraction complete",
		"turns", len(turns),
		"summary_len", len(summary),
		"fields", len(fields),
		"transcript", counts[SourceTranscript],
		"summary_pattern", counts[SourceSummaryPattern],
		"direct_fallback", counts[SourceDirectFallback],
	)
	return fields, nil
}

// SystemFields returns the two fields every call carries: the contact date
// and a verbatim copy of the summary. It is also the whole result when
// extraction fails.
func SystemFields(summary string, now time.Time) FieldMap {
	return FieldMap{
		KeyLastContact: {Value: now.UTC().Format("2006-01-02"), Confidence: ConfidenceSystem, Source: SourceSystem},
		KeySummary:     {Value: summary, Confidence: ConfidenceSystem, Source: SourceSystem},
	}
}
