// Package transcript turns call transcripts into an ordered list of speaker turns.
package transcript

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
)

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Turn is a single utterance. Index is its position in the call.
type Turn struct {
	Speaker string `json:"speaker"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	Index   int    `json:"index"`
}

// Message is one entry of a pre-structured transcript, as sent by the voice
// platform in artifact.messages or by callers of the extract API.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (m Message) text() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Message
}

// Structured is the {"messages": [...]} transcript form.
type Structured struct {
	Messages []Message `json:"messages"`
}

// Normalize converts a transcript payload into turns. Anything it cannot make
// sense of yields no turns; it never fails.
//
// Accepted payloads: nil, string, []byte, json.RawMessage, Structured,
// *Structured, []Message, []Turn and map[string]any.
func Normalize(payload any, speakers catalog.Speakers) []Turn {
	switch p := payload.(type) {
	case nil:
		return nil
	case string:
		return normalizeText(p, speakers)
	case []byte:
		return normalizeText(string(p), speakers)
	case json.RawMessage:
		return normalizeRaw(p, speakers)
	case Structured:
		return FromMessages(p.Messages)
	case *Structured:
		if p == nil {
			return nil
		}
		return FromMessages(p.Messages)
	case []Message:
		return FromMessages(p)
	case []Turn:
		out := make([]Turn, len(p))
		copy(out, p)
		for i := range out {
			out[i].Index = i
		}
		return out
	case map[string]any:
		data, err := json.Marshal(p)
		if err != nil {
			return nil
		}
		return parseStructured(data)
	default:
		return nil
	}
}

func normalizeRaw(raw json.RawMessage, speakers catalog.Speakers) []Turn {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '{':
		return parseStructured(trimmed)
	case '[':
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil
		}
		return FromMessages(msgs)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		return normalizeText(s, speakers)
	}
	return nil
}

func normalizeText(s string, speakers catalog.Speakers) []Turn {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	// A JSON object that fails to parse is not re-read as plain text.
	if strings.HasPrefix(trimmed, "{") {
		return parseStructured([]byte(trimmed))
	}
	return ParseTagged(trimmed, speakers)
}

func parseStructured(data []byte) []Turn {
	var st Structured
	if err := json.Unmarshal(data, &st); err != nil {
		return nil
	}
	return FromMessages(st.Messages)
}

// FromMessages maps structured messages onto turns. System prompts, tool calls
// and empty messages are dropped.
func FromMessages(msgs []Message) []Turn {
	var turns []Turn
	for _, m := range msgs {
		role, ok := mapRole(m.Role)
		if !ok {
			continue
		}
		text := m.text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		speaker := m.Speaker
		if speaker == "" {
			speaker = string(role)
		}
		turns = append(turns, Turn{
			Speaker: speaker,
			Role:    role,
			Text:    text,
			Index:   len(turns),
		})
	}
	return turns
}

func mapRole(role string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant", "bot", "ai":
		return RoleAssistant, true
	case "user", "customer", "human":
		return RoleUser, true
	default:
		return "", false
	}
}

// ParseTagged splits "Label: text Label: text" transcripts on the known
// speaker labels. Text before the first label is discarded.
func ParseTagged(s string, speakers catalog.Speakers) []Turn {
	re := labelPattern(speakers)
	if re == nil {
		return nil
	}

	var turns []Turn
	current := ""
	emit := func(segment string) {
		segment = strings.TrimSpace(segment)
		if segment == "" || current == "" {
			return
		}
		role := RoleUser
		if speakers.IsAssistant(current) {
			role = RoleAssistant
		}
		turns = append(turns, Turn{
			Speaker: current,
			Role:    role,
			Text:    segment,
			Index:   len(turns),
		})
	}

	pos := 0
	for _, m := range re.FindAllStringSubmatchIndex(s, -1) {
		emit(s[pos:m[0]])
		current = s[m[2]:m[3]]
		pos = m[1]
	}
	emit(s[pos:])
	return turns
}

func labelPattern(speakers catalog.Speakers) *regexp.Regexp {
	labels := speakers.All()
	if len(labels) == 0 {
		return nil
	}
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	// Longest first so "AI Assistant" wins over "Assistant".
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `):\s*`)
}
