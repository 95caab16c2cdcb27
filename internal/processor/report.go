package processor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

// TypeEndOfCallReport is the only webhook type that triggers extraction.
const TypeEndOfCallReport = "end-of-call-report"

// Webhook is the envelope the voice platform posts.
type Webhook struct {
	Message Report `json:"message"`
}

// Report is an end-of-call report, or any other webhook message.
type Report struct {
	Type        string    `json:"type"`
	Call        *Call     `json:"call,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
	EndedReason string    `json:"endedReason,omitempty"`
	Analysis    *Analysis `json:"analysis,omitempty"`
	Artifact    *Artifact `json:"artifact,omitempty"`
}

type Call struct {
	ID                 string              `json:"id"`
	StartedAt          string              `json:"startedAt,omitempty"`
	EndedAt            string              `json:"endedAt,omitempty"`
	Transcript         string              `json:"transcript,omitempty"`
	Customer           *Customer           `json:"customer,omitempty"`
	AssistantOverrides *AssistantOverrides `json:"assistantOverrides,omitempty"`
	Analysis           *Analysis           `json:"analysis,omitempty"`
	Artifact           *Artifact           `json:"artifact,omitempty"`
}

type Customer struct {
	Number string `json:"number,omitempty"`
}

type AssistantOverrides struct {
	VariableValues map[string]any `json:"variableValues,omitempty"`
}

type Analysis struct {
	Summary string `json:"summary,omitempty"`
}

type Artifact struct {
	Messages   []ArtifactMessage `json:"messages,omitempty"`
	Transcript string            `json:"transcript,omitempty"`
}

// ArtifactMessage is a transcript message plus the tool-call fields the
// platform adds to it.
type ArtifactMessage struct {
	transcript.Message
	Name   string          `json:"name,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// SummaryText returns the call summary, preferring the report's own.
func (r Report) SummaryText() string {
	switch {
	case strings.TrimSpace(r.Summary) != "":
		return r.Summary
	case r.Analysis != nil && r.Analysis.Summary != "":
		return r.Analysis.Summary
	case r.Call != nil && r.Call.Analysis != nil:
		return r.Call.Analysis.Summary
	}
	return ""
}

func (r Report) messages() []ArtifactMessage {
	if r.Artifact != nil && len(r.Artifact.Messages) > 0 {
		return r.Artifact.Messages
	}
	if r.Call != nil && r.Call.Artifact != nil {
		return r.Call.Artifact.Messages
	}
	return nil
}

// TranscriptPayload picks the richest transcript available: structured
// messages first, then any flat transcript string.
func (r Report) TranscriptPayload() any {
	if msgs := r.messages(); len(msgs) > 0 {
		out := make([]transcript.Message, len(msgs))
		for i, m := range msgs {
			out[i] = m.Message
		}
		return out
	}
	candidates := []string{r.Transcript}
	if r.Artifact != nil {
		candidates = append(candidates, r.Artifact.Transcript)
	}
	if r.Call != nil {
		candidates = append(candidates, r.Call.Transcript)
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return nil
}

// ContactID finds the CRM contact the call belongs to: the contactId
// variable passed to the assistant, else the id returned by a
// create_contact tool call during the call.
func (r Report) ContactID() string {
	if r.Call != nil && r.Call.AssistantOverrides != nil {
		if id, ok := r.Call.AssistantOverrides.VariableValues["contactId"].(string); ok && id != "" {
			return id
		}
	}
	var msgs []ArtifactMessage
	if r.Call != nil && r.Call.Artifact != nil {
		msgs = append(msgs, r.Call.Artifact.Messages...)
	}
	if r.Artifact != nil {
		msgs = append(msgs, r.Artifact.Messages...)
	}
	for _, m := range msgs {
		if m.Role != "tool_call_result" || m.Name != "create_contact" {
			continue
		}
		if id := resultID(m.Result); id != "" {
			return id
		}
	}
	return ""
}

// resultID reads "id" from a tool result, which arrives either as an object
// or as a JSON-encoded string.
func resultID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		raw = []byte(s)
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return ""
	}
	return res.ID
}
