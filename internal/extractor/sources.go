package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/quill/internal/catalog"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

// fromTranscript resolves fields from question/answer pairs. For each field
// the phrasings are tried in order; the first one followed by a usable
// respondent turn wins.
func (e *Extractor) fromTranscript(turns []transcript.Turn, fields FieldMap) {
	if len(turns) == 0 {
		return
	}
	lowered := make([]string, len(turns))
	for i, t := range turns {
		lowered[i] = strings.ToLower(t.Text)
	}

	for _, def := range e.catalog.Definitions() {
		key := string(def.Key)
		if fields.Has(key) {
			continue
		}
		for _, phrasing := range def.Phrasings {
			answer, ok := e.answerAfter(turns, lowered, strings.ToLower(phrasing))
			if !ok {
				continue
			}
			fields.claim(key, Value{Value: answer, Confidence: ConfidenceTranscript, Source: SourceTranscript})
			break
		}
	}
}

// answerAfter finds the first turn containing phrasing that is followed by a
// respondent turn whose text survives cleaning.
func (e *Extractor) answerAfter(turns []transcript.Turn, lowered []string, phrasing string) (string, bool) {
	for i := range turns {
		if !strings.Contains(lowered[i], phrasing) {
			continue
		}
		for j := i + 1; j < len(turns); j++ {
			next := turns[j]
			if next.Role != transcript.RoleUser || utf8.RuneCountInString(strings.TrimSpace(next.Text)) <= minAnswerLen {
				continue
			}
			if answer, ok := e.cleaner.Clean(next.Text); ok {
				return answer, true
			}
			break
		}
	}
	return "", false
}

// fromSummary resolves the still-missing fields from the summary: a phrasing
// quoted in the summary first, then the field's pattern rules.
func (e *Extractor) fromSummary(summary string, fields FieldMap) {
	lower := strings.ToLower(summary)
	for _, def := range e.catalog.Definitions() {
		key := string(def.Key)
		if fields.Has(key) {
			continue
		}
		if answer, ok := e.quotedAnswer(summary, def.Key); ok {
			fields.claim(key, Value{Value: answer, Confidence: ConfidenceQuoted, Source: SourceSummaryPattern})
			continue
		}
		if v, ok := applyRules(def.Patterns, summary, lower, SourceSummaryPattern); ok {
			fields.claim(key, v)
		}
	}
}

// fromFallback runs the coarser direct rules for whatever is still missing.
func (e *Extractor) fromFallback(summary string, fields FieldMap) {
	lower := strings.ToLower(summary)
	for _, def := range e.catalog.Definitions() {
		key := string(def.Key)
		if fields.Has(key) {
			continue
		}
		if v, ok := applyRules(def.Fallback, summary, lower, SourceDirectFallback); ok {
			fields.claim(key, v)
		}
	}
}

func (e *Extractor) quotedAnswer(summary string, key catalog.FieldKey) (string, bool) {
	for _, re := range e.quoted[key] {
		loc := re.FindStringIndex(summary)
		if loc == nil {
			continue
		}
		if answer, ok := e.summaryCleaner.Clean(summary[loc[1]:]); ok {
			return answer, true
		}
	}
	return "", false
}

func applyRules(rules []catalog.Rule, summary, lower string, src Source) (Value, bool) {
	for _, r := range rules {
		if v, ok := r.Apply(summary, lower); ok {
			return Value{Value: v, Confidence: r.Confidence, Source: src}, true
		}
	}
	return Value{}, false
}

func phrasingPatterns(cat *catalog.Catalog) map[catalog.FieldKey][]*regexp.Regexp {
	out := make(map[catalog.FieldKey][]*regexp.Regexp, cat.Len())
	for _, def := range cat.Definitions() {
		for _, p := range def.Phrasings {
			out[def.Key] = append(out[def.Key], regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
		}
	}
	return out
}
