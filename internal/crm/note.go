package crm

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
	"github.com/MikeSquared-Agency/quill/internal/extractor"
)

// CustomField is one entry of a contact's customFields update.
type CustomField struct {
	Key        string `json:"key"`
	FieldValue string `json:"field_value"`
}

var systemKeys = []string{extractor.KeyLastContact, extractor.KeySummary, extractor.KeyVoiceMemory}

// CustomFields maps resolved fields to CRM custom fields, catalog fields
// under their display names first, then the system and digest fields.
// Empty values are skipped.
func CustomFields(fields extractor.FieldMap, cat *catalog.Catalog) []CustomField {
	var out []CustomField
	for _, def := range cat.Definitions() {
		v, ok := fields[string(def.Key)]
		if !ok || strings.TrimSpace(v.Value) == "" {
			continue
		}
		out = append(out, CustomField{Key: def.DisplayName, FieldValue: v.Value})
	}
	for _, key := range systemKeys {
		v, ok := fields[key]
		if !ok || strings.TrimSpace(v.Value) == "" {
			continue
		}
		out = append(out, CustomField{Key: key, FieldValue: v.Value})
	}
	return out
}

// FormatNote renders the call note posted on the contact.
func FormatNote(fields extractor.FieldMap, cat *catalog.Catalog, callID string) string {
	var sb strings.Builder

	sb.WriteString("Call Summary\n")
	if callID != "" {
		fmt.Fprintf(&sb, "Call ID: %s\n", callID)
	}
	if v, ok := fields[extractor.KeyLastContact]; ok {
		fmt.Fprintf(&sb, "Date: %s\n", v.Value)
	}

	var lines []string
	for _, def := range cat.Definitions() {
		v, ok := fields[string(def.Key)]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%d%%, %s)", def.DisplayName, v.Value, v.Confidence, v.Source))
	}
	if len(lines) > 0 {
		sb.WriteString("\nKey Information:\n")
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n")
	}

	if v, ok := fields[extractor.KeyVoiceMemory]; ok {
		fmt.Fprintf(&sb, "\nVoice Memory:\n%s\n", v.Value)
	}
	if v, ok := fields[extractor.KeySummary]; ok && strings.TrimSpace(v.Value) != "" {
		fmt.Fprintf(&sb, "\nSummary:\n%s\n", v.Value)
	}
	return strings.TrimRight(sb.String(), "\n")
}
