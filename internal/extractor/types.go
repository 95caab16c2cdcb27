package extractor

import "errors"

// ErrExtraction marks an internal failure of an extraction run. Callers should
// fall back to storing the raw summary.
var ErrExtraction = errors.New("field extraction failed")

// Source is the provenance tier that produced a value.
type Source string

const (
	SourceTranscript     Source = "transcript"
	SourceSummaryPattern Source = "summary_pattern"
	SourceDirectFallback Source = "direct_fallback"
	SourceSystem         Source = "system"
	SourceDerived        Source = "derived"
)

// Fixed confidences per tier. Summary rules carry their own.
const (
	ConfidenceTranscript = 95
	ConfidenceQuoted     = 90
	ConfidenceSystem     = 100
	ConfidenceDerived    = 95
)

// Keys for the fields that are not part of the catalog.
const (
	KeyLastContact = "Last Contact"
	KeySummary     = "latest Call Summary"
	KeyVoiceMemory = "Voice Memory"
)

// Value is one resolved field.
type Value struct {
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
	Source     Source `json:"source"`
}

// FieldMap holds at most one value per key. Catalog and derived keys are
// written once; system keys always carry the current call's values.
type FieldMap map[string]Value

// claim stores v unless key is already resolved.
func (m FieldMap) claim(key string, v Value) bool {
	if _, ok := m[key]; ok {
		return false
	}
	m[key] = v
	return true
}

// Has reports whether key resolved to a value.
func (m FieldMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// CountBySource tallies values per provenance tier.
func (m FieldMap) CountBySource() map[Source]int {
	out := make(map[Source]int)
	for _, v := range m {
		out[v.Source]++
	}
	return out
}
