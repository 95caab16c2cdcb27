package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Rule is one summary heuristic. It holds when any of its When groups has all
// keywords present in the lower-cased summary and, if set, Pattern matches the
// original summary. Both conditions must hold when both are configured.
type Rule struct {
	Name       string
	When       [][]string
	Pattern    *regexp.Regexp
	Value      string
	Confidence int
}

type ruleSpec struct {
	Name       string     `yaml:"name"`
	When       [][]string `yaml:"when"`
	Pattern    string     `yaml:"pattern"`
	Value      string     `yaml:"value"`
	Confidence int        `yaml:"confidence"`
}

func (rs ruleSpec) compile() (Rule, error) {
	if len(rs.When) == 0 && rs.Pattern == "" {
		return Rule{}, errors.New("rule needs when or pattern")
	}
	if rs.Confidence < 0 || rs.Confidence > 100 {
		return Rule{}, fmt.Errorf("confidence %d out of range", rs.Confidence)
	}
	if rs.Pattern == "" && strings.TrimSpace(rs.Value) == "" {
		return Rule{}, errors.New("keyword rule needs a value")
	}

	r := Rule{Name: rs.Name, Value: rs.Value, Confidence: rs.Confidence}
	for _, group := range rs.When {
		if len(group) == 0 {
			return Rule{}, errors.New("empty when group")
		}
		g := make([]string, len(group))
		for i, kw := range group {
			g[i] = strings.ToLower(kw)
		}
		r.When = append(r.When, g)
	}
	if rs.Pattern != "" {
		re, err := regexp.Compile(rs.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("compile pattern: %w", err)
		}
		r.Pattern = re
	}
	return r, nil
}

// Apply evaluates the rule. lower must be strings.ToLower(text).
func (r Rule) Apply(text, lower string) (string, bool) {
	if len(r.When) > 0 && !r.keywordsHold(lower) {
		return "", false
	}
	if r.Pattern == nil {
		return r.Value, true
	}

	m := r.Pattern.FindStringSubmatchIndex(text)
	if m == nil {
		return "", false
	}
	var value string
	switch {
	case r.Value != "":
		value = string(r.Pattern.ExpandString(nil, r.Value, text, m))
	case len(m) >= 4 && m[2] >= 0:
		value = text[m[2]:m[3]]
	default:
		value = text[m[0]:m[1]]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

func (r Rule) keywordsHold(lower string) bool {
	for _, group := range r.When {
		all := true
		for _, kw := range group {
			if !strings.Contains(lower, kw) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
