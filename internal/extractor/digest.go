package extractor

import (
	"strings"
	"time"
)

// placeholder values never make it into the digest.
const placeholder = "Not specified"

// minDigestParts is the fewest fragments worth a digest line.
const minDigestParts = 3

var digestParts = []struct {
	key   string
	label string
}{
	{"motivation", "Motivation"},
	{"expectations", "Expects"},
	{"timeline", "Timeline"},
	{"concerns", "Concern"},
	{"opennessToRelist", "Agent"},
	{"nextDestination", "Moving"},
}

// Digest condenses the resolved fields into one dated line, e.g.
// "[9/16/2025] Motivation: Save commission | Timeline: February | Agent: Yes."
// It returns false when fewer than three fragments are available.
func Digest(fields FieldMap, now time.Time) (Value, bool) {
	var parts []string
	for _, p := range digestParts {
		v, ok := fields[p.key]
		if !ok {
			continue
		}
		text := strings.TrimSpace(v.Value)
		if text == "" || text == placeholder {
			continue
		}
		parts = append(parts, p.label+": "+text)
	}
	if len(parts) < minDigestParts {
		return Value{}, false
	}

	line := "[" + now.Format("1/2/2006") + "] " + strings.TrimRight(strings.Join(parts, " | "), ".") + "."
	return Value{Value: line, Confidence: ConfidenceDerived, Source: SourceDerived}, true
}
