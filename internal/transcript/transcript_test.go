package transcript

import (
	"encoding/json"
	"testing"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
)

var speakers = catalog.MustDefault().Speakers()

const structuredJSON = `{
  "messages": [
    {"role": "system", "content": "You are Olivia. Ask: Where are you planning to go after you sell?"},
    {"role": "assistant", "content": "Where are you planning to go after you sell?", "speaker": "Olivia", "timestamp": "2025-09-16T10:31:30Z"},
    {"role": "user", "content": "San Francisco. Got a great job offer.", "speaker": "Michael"},
    {"role": "tool_call_result", "content": "{\"id\":\"abc\"}"},
    {"role": "bot", "message": "Great, thanks!"}
  ]
}`

func TestNormalize_StructuredString(t *testing.T) {
	turns := Normalize(structuredJSON, speakers)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d: %+v", len(turns), turns)
	}

	if turns[0].Role != RoleAssistant || turns[0].Speaker != "Olivia" {
		t.Errorf("turn 0 = %+v, want assistant Olivia", turns[0])
	}
	if turns[1].Role != RoleUser || turns[1].Text != "San Francisco. Got a great job offer." {
		t.Errorf("turn 1 = %+v", turns[1])
	}
	if turns[2].Role != RoleAssistant || turns[2].Text != "Great, thanks!" || turns[2].Speaker != "assistant" {
		t.Errorf("turn 2 = %+v, want bot message mapped to assistant", turns[2])
	}
	for i, tr := range turns {
		if tr.Index != i {
			t.Errorf("turn %d has index %d", i, tr.Index)
		}
	}
}

func TestNormalize_PayloadTypes(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(structuredJSON), &decoded); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	st := Structured{Messages: []Message{
		{Role: "assistant", Content: "Any worries?"},
		{Role: "user", Content: "Not really."},
	}}

	tests := []struct {
		name    string
		payload any
		want    int
	}{
		{"nil", nil, 0},
		{"empty string", "   ", 0},
		{"bytes", []byte(structuredJSON), 3},
		{"raw message object", json.RawMessage(structuredJSON), 3},
		{"raw message array", json.RawMessage(`[{"role":"user","content":"hello there"}]`), 1},
		{"raw message string", json.RawMessage(`"User: hello there"`), 1},
		{"raw null", json.RawMessage(`null`), 0},
		{"structured value", st, 2},
		{"structured pointer", &st, 2},
		{"nil structured pointer", (*Structured)(nil), 0},
		{"message slice", st.Messages, 2},
		{"decoded map", decoded, 3},
		{"unsupported type", 42, 0},
		{"malformed json", `{"messages": [`, 0},
		{"messages not a list", `{"messages": "nope"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.payload, speakers)
			if len(got) != tt.want {
				t.Errorf("expected %d turns, got %d: %+v", tt.want, len(got), got)
			}
		})
	}
}

func TestNormalize_TurnsReindexed(t *testing.T) {
	in := []Turn{
		{Speaker: "Olivia", Role: RoleAssistant, Text: "Hi", Index: 7},
		{Speaker: "Michael", Role: RoleUser, Text: "Hello", Index: 9},
	}
	got := Normalize(in, speakers)
	if got[0].Index != 0 || got[1].Index != 1 {
		t.Errorf("expected reindexed turns, got %+v", got)
	}
	if in[0].Index != 7 {
		t.Error("Normalize must not mutate its input")
	}
}

func TestParseTagged(t *testing.T) {
	text := "Preamble noise. Olivia: What's your timeline? Michael: By February at the latest. " +
		"AI Assistant: Great. user: Thanks."

	turns := ParseTagged(text, speakers)
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d: %+v", len(turns), turns)
	}

	want := []struct {
		speaker string
		role    Role
		text    string
	}{
		{"Olivia", RoleAssistant, "What's your timeline?"},
		{"Michael", RoleUser, "By February at the latest."},
		{"AI Assistant", RoleAssistant, "Great."},
		{"user", RoleUser, "Thanks."},
	}
	for i, w := range want {
		if turns[i].Speaker != w.speaker || turns[i].Role != w.role || turns[i].Text != w.text {
			t.Errorf("turn %d = %+v, want %+v", i, turns[i], w)
		}
	}
}

func TestParseTagged_SingleSpeaker(t *testing.T) {
	text := "Michael: I'm frustrated by all these agent calls. I want to sell for $1.6 million by February."
	turns := ParseTagged(text, speakers)
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Role != RoleUser {
		t.Errorf("expected user role, got %s", turns[0].Role)
	}
}

func TestParseTagged_NoLabels(t *testing.T) {
	if turns := ParseTagged("just some words with no speakers", speakers); len(turns) != 0 {
		t.Errorf("expected no turns, got %+v", turns)
	}
	if turns := ParseTagged("Olivia: hi", catalog.Speakers{}); turns != nil {
		t.Errorf("expected nil without labels, got %+v", turns)
	}
}

func TestParseTagged_PlatformTranscript(t *testing.T) {
	text := "AI: Hi, this is Olivia. Where are you planning to go after you sell?\nUser: Denver, probably.\nAI: Great."
	turns := ParseTagged(text, speakers)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d: %+v", len(turns), turns)
	}
	if turns[0].Role != RoleAssistant || turns[1].Role != RoleUser || turns[1].Text != "Denver, probably." {
		t.Errorf("unexpected turns %+v", turns)
	}
}
