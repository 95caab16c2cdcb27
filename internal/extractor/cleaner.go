package extractor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	leadingPunct  = regexp.MustCompile(`^[\s,.\-:?!]+`)
	trailingPunct = regexp.MustCompile(`[\s,.\-:?!]+$`)
	leadingFiller = regexp.MustCompile(`(?i)^(?:well|um|uh|so|like|you know|i mean|yeah|yes|no)[\s,]+`)

	naturalBreaks = []*regexp.Regexp{
		regexp.MustCompile(`\.\s+[A-Z]`),
		regexp.MustCompile(`\?\s+`),
		regexp.MustCompile(`\.\s+The\s+`),
	}
)

// minAnswerLen is the longest answer still rejected as noise.
const minAnswerLen = 3

// Cleaner turns a raw answer fragment into a presentable value.
type Cleaner struct {
	breaks []*regexp.Regexp
}

// NewCleaner returns a cleaner that also treats a period followed by any of
// stopWords as a natural break.
func NewCleaner(stopWords ...string) *Cleaner {
	c := &Cleaner{breaks: append([]*regexp.Regexp(nil), naturalBreaks...)}
	for _, w := range stopWords {
		c.breaks = append(c.breaks, regexp.MustCompile(`\.\s+`+regexp.QuoteMeta(w)))
	}
	return c
}

// Clean returns the cleaned answer, or false when what is left is too short
// or has no letters.
func (c *Cleaner) Clean(raw string) (string, bool) {
	answer := strings.TrimSpace(raw)
	answer = leadingPunct.ReplaceAllString(answer, "")
	answer = leadingFiller.ReplaceAllString(answer, "")

	end := len(answer)
	for _, re := range c.breaks {
		if loc := re.FindStringIndex(answer); loc != nil && loc[0] < end {
			end = loc[0] + 1
		}
	}

	cut := strings.TrimSpace(answer[:end])
	core := trailingPunct.ReplaceAllString(leadingPunct.ReplaceAllString(cut, ""), "")
	if utf8.RuneCountInString(core) <= minAnswerLen || !hasLetter(core) {
		return "", false
	}

	// Keep the terminator the sentence break cut after.
	if end < len(answer) {
		if term := answer[end-1]; term == '.' || term == '?' {
			return core + string(term), true
		}
	}
	return core, true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
