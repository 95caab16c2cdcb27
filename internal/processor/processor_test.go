package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
	"github.com/MikeSquared-Agency/quill/internal/crm"
	"github.com/MikeSquared-Agency/quill/internal/dedup"
	"github.com/MikeSquared-Agency/quill/internal/extractor"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/slack"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var frozen = time.Date(2025, 9, 16, 10, 30, 0, 0, time.UTC)

const reportJSON = `{
  "message": {
    "type": "end-of-call-report",
    "endedReason": "customer-ended-call",
    "summary": "Michael wants to save on commission and plans to move to San Francisco.",
    "call": {
      "id": "call-123",
      "assistantOverrides": {"variableValues": {"contactId": "contact-9"}}
    },
    "artifact": {
      "messages": [
        {"role": "system", "message": "You are Olivia."},
        {"role": "bot", "message": "What's got you thinking about selling your home yourself instead of working with an agent?"},
        {"role": "user", "message": "Honestly I want to save on the commission. These agent calls are driving me crazy."},
        {"role": "bot", "message": "Ideally, when would you like to have your home sold and be moved out?"},
        {"role": "user", "message": "By February at the latest. My new job starts in March."},
        {"role": "bot", "message": "Where are you planning to go after you sell?"},
        {"role": "user", "message": "San Francisco. Got a great job opportunity out there."}
      ]
    }
  }
}`

type fakeStore struct {
	runs []store.Run
	err  error
}

func (f *fakeStore) WriteRun(_ context.Context, run store.Run) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.runs = append(f.runs, run)
	return uuid.MustParse("7f3d1c2e-0000-4000-8000-000000000001"), nil
}

type fakeCRM struct {
	updates   map[string][]crm.CustomField
	notes     map[string]string
	updateErr error
	noteErr   error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{updates: map[string][]crm.CustomField{}, notes: map[string]string{}}
}

func (f *fakeCRM) UpdateContact(_ context.Context, contactID string, fields []crm.CustomField) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates[contactID] = fields
	return nil
}

func (f *fakeCRM) CreateNote(_ context.Context, contactID, body string) (string, error) {
	if f.noteErr != nil {
		return "", f.noteErr
	}
	f.notes[contactID] = body
	return "note-1", nil
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

type fakeNotifier struct {
	posted []slack.CallSummary
}

func (f *fakeNotifier) PostCallSummary(_ context.Context, sum slack.CallSummary) (string, error) {
	f.posted = append(f.posted, sum)
	return "1700000000.000100", nil
}

type brokenGuard struct{}

func (brokenGuard) Claim(context.Context, string) error   { return errors.New("redis down") }
func (brokenGuard) Release(context.Context, string) error { return errors.New("redis down") }

type harness struct {
	proc    *Processor
	store   *fakeStore
	crm     *fakeCRM
	pub     *fakePublisher
	slack   *fakeNotifier
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, clock func() time.Time) *harness {
	t.Helper()
	h := &harness{
		store:   &fakeStore{},
		crm:     newFakeCRM(),
		pub:     &fakePublisher{},
		slack:   &fakeNotifier{},
		metrics: metrics.New(),
	}
	ext := extractor.New(catalog.MustDefault(), discardLogger(), extractor.WithClock(clock))
	h.proc = New(ext, dedup.NewMemoryGuard(time.Hour), Deps{
		Store:   h.store,
		CRM:     h.crm,
		Hermes:  h.pub,
		Slack:   h.slack,
		Metrics: h.metrics,
	}, discardLogger())
	h.proc.now = func() time.Time { return frozen }
	return h
}

func frozenClock() time.Time { return frozen }

func parseReport(t *testing.T, raw string) Report {
	t.Helper()
	var env Webhook
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return env.Message
}

func TestHandleCallReport(t *testing.T) {
	h := newHarness(t, frozenClock)

	res, err := h.proc.HandleCallReport(context.Background(), parseReport(t, reportJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.CallID != "call-123" || res.ContactID != "contact-9" {
		t.Errorf("unexpected ids: %+v", res)
	}
	if res.RunID != "7f3d1c2e-0000-4000-8000-000000000001" {
		t.Errorf("run id = %q", res.RunID)
	}
	if res.Fallback {
		t.Error("expected no fallback")
	}
	if !res.NoteCreated {
		t.Error("expected note to be created")
	}

	want := map[string]string{
		"motivation":      "Honestly I want to save on the commission.",
		"timeline":        "By February at the latest.",
		"nextDestination": "San Francisco.",
	}
	for key, value := range want {
		got := res.Fields[key]
		if got.Value != value || got.Source != extractor.SourceTranscript {
			t.Errorf("%s = %+v, want %q from transcript", key, got, value)
		}
	}
	if _, ok := res.Fields[extractor.KeyVoiceMemory]; !ok {
		t.Error("expected voice memory digest")
	}

	if len(h.store.runs) != 1 || h.store.runs[0].CallID != "call-123" {
		t.Errorf("expected one stored run, got %+v", h.store.runs)
	}
	if len(h.crm.updates["contact-9"]) == 0 {
		t.Error("expected custom fields pushed to contact-9")
	}
	if note := h.crm.notes["contact-9"]; !strings.Contains(note, "Call ID: call-123") {
		t.Errorf("note missing call id:\n%s", note)
	}
	if len(h.slack.posted) != 1 {
		t.Errorf("expected one slack post, got %d", len(h.slack.posted))
	}

	if len(h.pub.subjects) != 1 || h.pub.subjects[0] != hermes.SubjectFieldsExtracted {
		t.Fatalf("unexpected publishes: %v", h.pub.subjects)
	}
	evt := h.pub.payloads[0].(hermes.FieldsExtracted)
	if evt.CallID != "call-123" || evt.Timestamp != "2025-09-16T10:30:00Z" {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.Fields["motivation"].Confidence != extractor.ConfidenceTranscript {
		t.Errorf("event motivation = %+v", evt.Fields["motivation"])
	}

	if got := testutil.ToFloat64(h.metrics.Extractions.WithLabelValues(metrics.OutcomeSuccess)); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.FieldsResolved.WithLabelValues("timeline", "transcript")); got != 1 {
		t.Errorf("timeline resolved count = %v, want 1", got)
	}
}

func TestHandleCallReport_Duplicate(t *testing.T) {
	h := newHarness(t, frozenClock)
	report := parseReport(t, reportJSON)

	if _, err := h.proc.HandleCallReport(context.Background(), report); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := h.proc.HandleCallReport(context.Background(), report)
	if !errors.Is(err, dedup.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(h.store.runs) != 1 {
		t.Errorf("duplicate should not be stored again, got %d runs", len(h.store.runs))
	}
	if got := testutil.ToFloat64(h.metrics.Extractions.WithLabelValues(metrics.OutcomeDuplicate)); got != 1 {
		t.Errorf("duplicate count = %v, want 1", got)
	}
}

func TestHandleCallReport_NoCall(t *testing.T) {
	h := newHarness(t, frozenClock)
	_, err := h.proc.HandleCallReport(context.Background(), Report{Type: TypeEndOfCallReport})
	if !errors.Is(err, ErrNoCall) {
		t.Fatalf("expected ErrNoCall, got %v", err)
	}
}

func TestHandleCallReport_NoContact(t *testing.T) {
	h := newHarness(t, frozenClock)
	report := Report{Type: TypeEndOfCallReport, Call: &Call{ID: "call-1"}, Summary: "Short call."}

	_, err := h.proc.HandleCallReport(context.Background(), report)
	if !errors.Is(err, crm.ErrNoContact) {
		t.Fatalf("expected ErrNoContact, got %v", err)
	}

	// The claim is released so a corrected retry goes through.
	report.Call.AssistantOverrides = &AssistantOverrides{VariableValues: map[string]any{"contactId": "c-1"}}
	if _, err := h.proc.HandleCallReport(context.Background(), report); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}

func TestHandleCallReport_ExtractionFallback(t *testing.T) {
	h := newHarness(t, func() time.Time { panic("clock unavailable") })
	report := parseReport(t, reportJSON)

	res, err := h.proc.HandleCallReport(context.Background(), report)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Fallback {
		t.Fatal("expected fallback")
	}
	if len(res.Fields) != 2 {
		t.Errorf("expected only system fields, got %+v", res.Fields)
	}
	if got := res.Fields[extractor.KeyLastContact].Value; got != "2025-09-16" {
		t.Errorf("last contact = %q", got)
	}
	if got := res.Fields[extractor.KeySummary].Value; got != report.SummaryText() {
		t.Errorf("summary = %q", got)
	}
	if got := testutil.ToFloat64(h.metrics.Extractions.WithLabelValues(metrics.OutcomeFallback)); got != 1 {
		t.Errorf("fallback count = %v, want 1", got)
	}
}

func TestHandleCallReport_CRMFailure(t *testing.T) {
	h := newHarness(t, frozenClock)
	h.crm.updateErr = errors.New("status 500")
	report := parseReport(t, reportJSON)

	if _, err := h.proc.HandleCallReport(context.Background(), report); err == nil {
		t.Fatal("expected error when the contact update fails")
	}
	if len(h.pub.subjects) != 0 {
		t.Error("nothing should be published after a failed update")
	}
	if len(h.store.runs) != 0 {
		t.Errorf("a failed update should not store a run, got %d", len(h.store.runs))
	}

	h.crm.updateErr = nil
	if _, err := h.proc.HandleCallReport(context.Background(), report); err != nil {
		t.Fatalf("retry after failed update: %v", err)
	}
	if len(h.store.runs) != 1 {
		t.Errorf("expected exactly one run after the retry, got %d", len(h.store.runs))
	}
}

func TestHandleCallReport_NoteFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, frozenClock)
	h.crm.noteErr = errors.New("status 422")

	res, err := h.proc.HandleCallReport(context.Background(), parseReport(t, reportJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NoteCreated {
		t.Error("note should not be reported as created")
	}
	if got := testutil.ToFloat64(h.metrics.CRMErrors.WithLabelValues("create_note")); got != 1 {
		t.Errorf("create_note errors = %v, want 1", got)
	}
}

func TestHandleCallReport_GuardUnavailable(t *testing.T) {
	ext := extractor.New(catalog.MustDefault(), discardLogger(), extractor.WithClock(frozenClock))
	p := New(ext, brokenGuard{}, Deps{}, discardLogger())

	res, err := p.HandleCallReport(context.Background(), parseReport(t, reportJSON))
	if err != nil {
		t.Fatalf("expected processing to continue, got %v", err)
	}
	if res.RunID != "" || res.NoteCreated {
		t.Errorf("optional steps should be skipped: %+v", res)
	}
}

func TestHandleReportMessage(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantPosts int
	}{
		{"webhook envelope", reportJSON, 1},
		{"bare report", `{"type":"end-of-call-report","summary":"Quick call.","call":{"id":"call-7","assistantOverrides":{"variableValues":{"contactId":"c-7"}}}}`, 1},
		{"other type", `{"message":{"type":"status-update","call":{"id":"call-8"}}}`, 0},
		{"invalid json", `{not json`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, frozenClock)
			h.proc.HandleReportMessage(hermes.SubjectCallReported, []byte(tt.payload))
			if len(h.slack.posted) != tt.wantPosts {
				t.Errorf("posts = %d, want %d", len(h.slack.posted), tt.wantPosts)
			}
		})
	}
}
