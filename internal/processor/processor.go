package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/crm"
	"github.com/MikeSquared-Agency/quill/internal/dedup"
	"github.com/MikeSquared-Agency/quill/internal/extractor"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/slack"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

// ErrNoCall is returned for an end-of-call report without call metadata.
var ErrNoCall = errors.New("report has no call")

// RunWriter persists processed calls.
type RunWriter interface {
	WriteRun(ctx context.Context, run store.Run) (uuid.UUID, error)
}

// ContactUpdater pushes fields and notes to the CRM.
type ContactUpdater interface {
	UpdateContact(ctx context.Context, contactID string, fields []crm.CustomField) error
	CreateNote(ctx context.Context, contactID, body string) (string, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Notifier interface {
	PostCallSummary(ctx context.Context, sum slack.CallSummary) (string, error)
}

// Processor runs a call report through extraction and fans the result out.
// Every dependency except the extractor and guard is optional.
type Processor struct {
	extractor *extractor.Extractor
	guard     dedup.Guard
	store     RunWriter
	crm       ContactUpdater
	hermes    Publisher
	slack     Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Deps holds the optional collaborators. Leave a field nil to skip that step.
type Deps struct {
	Store   RunWriter
	CRM     ContactUpdater
	Hermes  Publisher
	Slack   Notifier
	Metrics *metrics.Metrics
}

func New(ext *extractor.Extractor, guard dedup.Guard, deps Deps, logger *slog.Logger) *Processor {
	return &Processor{
		extractor: ext,
		guard:     guard,
		store:     deps.Store,
		crm:       deps.CRM,
		hermes:    deps.Hermes,
		slack:     deps.Slack,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Result is what a processed call report produced.
type Result struct {
	RunID       string             `json:"run_id,omitempty"`
	CallID      string             `json:"call_id"`
	ContactID   string             `json:"contact_id"`
	Fields      extractor.FieldMap `json:"fields"`
	NoteCreated bool               `json:"note_created"`
	Fallback    bool               `json:"fallback"`
}

// HandleCallReport processes one end-of-call report. A report already seen
// returns dedup.ErrDuplicate; one without a contact returns crm.ErrNoContact.
// When extraction fails the call still gets its system fields.
func (p *Processor) HandleCallReport(ctx context.Context, report Report) (*Result, error) {
	if report.Call == nil || report.Call.ID == "" {
		return nil, ErrNoCall
	}
	callID := report.Call.ID

	if err := p.guard.Claim(ctx, callID); err != nil {
		if errors.Is(err, dedup.ErrDuplicate) {
			p.count(metrics.OutcomeDuplicate)
			p.logger.Info("duplicate call report skipped", "call_id", callID)
			return nil, err
		}
		// Processing twice beats dropping the call.
		p.logger.Warn("dedup unavailable, processing anyway", "call_id", callID, "error", err)
	}

	contactID := report.ContactID()
	if contactID == "" {
		p.release(ctx, callID)
		p.count(metrics.OutcomeNoContact)
		return nil, crm.ErrNoContact
	}

	summary := report.SummaryText()
	fields, err := p.extractor.Extract(ctx, summary, report.TranscriptPayload())
	fallback := false
	if err != nil {
		p.logger.Error("extraction failed, using system fields", "call_id", callID, "error", err)
		fields = extractor.SystemFields(summary, p.now())
		fallback = true
	}

	res := &Result{
		CallID:    callID,
		ContactID: contactID,
		Fields:    fields,
		Fallback:  fallback,
	}

	if p.crm != nil {
		cat := p.extractor.Catalog()
		if err := p.crm.UpdateContact(ctx, contactID, crm.CustomFields(fields, cat)); err != nil {
			p.crmError("update_contact")
			// Let the platform's retry reach us again.
			p.release(ctx, callID)
			return nil, fmt.Errorf("update contact %s: %w", contactID, err)
		}
		if _, err := p.crm.CreateNote(ctx, contactID, crm.FormatNote(fields, cat, callID)); err != nil {
			p.crmError("create_note")
			p.logger.Error("failed to create note", "call_id", callID, "contact_id", contactID, "error", err)
		} else {
			res.NoteCreated = true
		}
	}

	// A failed contact update returned above, so retries leave no orphan runs.
	if p.store != nil {
		runID, err := p.store.WriteRun(ctx, store.Run{
			CallID:    callID,
			ContactID: contactID,
			Summary:   summary,
			Fallback:  fallback,
			Fields:    fields,
		})
		if err != nil {
			p.logger.Error("failed to store run", "call_id", callID, "error", err)
		} else {
			res.RunID = runID.String()
		}
	}

	p.publish(res)

	if p.slack != nil {
		if _, err := p.slack.PostCallSummary(ctx, slack.CallSummary{
			CallID:    callID,
			ContactID: contactID,
			Fallback:  fallback,
			Fields:    fields,
		}); err != nil {
			p.logger.Error("slack post failed", "call_id", callID, "error", err)
		}
	}

	p.record(res)
	p.logger.Info("call report processed",
		"call_id", callID,
		"contact_id", contactID,
		"fields", len(fields),
		"note_created", res.NoteCreated,
		"fallback", fallback,
	)
	return res, nil
}

// HandleReportMessage is the NATS handler for quill.call.reported. The
// payload is either the webhook envelope or a bare report.
func (p *Processor) HandleReportMessage(subject string, data []byte) {
	report, err := DecodeReport(data)
	if err != nil {
		p.logger.Error("failed to parse call report", "subject", subject, "error", err)
		return
	}
	if report.Type != "" && report.Type != TypeEndOfCallReport {
		p.logger.Debug("ignoring report", "subject", subject, "type", report.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := p.HandleCallReport(ctx, report); err != nil && !errors.Is(err, dedup.ErrDuplicate) {
		p.logger.Error("call report failed", "subject", subject, "error", err)
	}
}

// DecodeReport reads a report from either the webhook envelope or a bare
// report object.
func DecodeReport(data []byte) (Report, error) {
	var env Webhook
	if err := json.Unmarshal(data, &env); err != nil {
		return Report{}, err
	}
	if env.Message.Type != "" || env.Message.Call != nil {
		return env.Message, nil
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}

func (p *Processor) publish(res *Result) {
	if p.hermes == nil {
		return
	}
	payload := hermes.FieldsExtracted{
		RunID:     res.RunID,
		CallID:    res.CallID,
		ContactID: res.ContactID,
		Fallback:  res.Fallback,
		Fields:    make(map[string]hermes.FieldPayload, len(res.Fields)),
		Timestamp: p.now().UTC().Format(time.RFC3339),
	}
	for k, v := range res.Fields {
		payload.Fields[k] = hermes.FieldPayload{Value: v.Value, Confidence: v.Confidence, Source: string(v.Source)}
	}
	if err := p.hermes.Publish(hermes.SubjectFieldsExtracted, payload); err != nil {
		p.logger.Error("failed to publish fields extracted", "call_id", res.CallID, "error", err)
	}
}

func (p *Processor) release(ctx context.Context, callID string) {
	if err := p.guard.Release(ctx, callID); err != nil {
		p.logger.Warn("failed to release dedup claim", "call_id", callID, "error", err)
	}
}

func (p *Processor) count(outcome string) {
	if p.metrics != nil {
		p.metrics.Extractions.WithLabelValues(outcome).Inc()
	}
}

func (p *Processor) crmError(op string) {
	if p.metrics != nil {
		p.metrics.CRMErrors.WithLabelValues(op).Inc()
	}
}

func (p *Processor) record(res *Result) {
	if p.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	if res.Fallback {
		outcome = metrics.OutcomeFallback
	}
	p.metrics.Extractions.WithLabelValues(outcome).Inc()
	for k, v := range res.Fields {
		p.metrics.FieldsResolved.WithLabelValues(k, string(v.Source)).Inc()
	}
}
