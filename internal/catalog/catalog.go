// Package catalog holds the registry of CRM fields the extractor targets,
// the interviewer phrasings that elicit each one and the summary rule tables.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// FieldKey identifies one structured attribute, e.g. "motivation".
type FieldKey string

// FieldDefinition describes a target field. Phrasings are tried in order.
type FieldDefinition struct {
	Key         FieldKey
	DisplayName string
	Phrasings   []string
	// Patterns are the summary rules, first match wins.
	Patterns []Rule
	// Fallback rules are coarser and only consulted when Patterns found nothing.
	Fallback []Rule
}

// Speakers lists the transcript labels recognised in speaker-tagged text.
type Speakers struct {
	Assistant []string `yaml:"assistant"`
	User      []string `yaml:"user"`
}

// IsAssistant reports whether label names an interviewer identity.
func (s Speakers) IsAssistant(label string) bool {
	for _, a := range s.Assistant {
		if strings.EqualFold(a, label) {
			return true
		}
	}
	return false
}

// All returns every label, assistant identities first.
func (s Speakers) All() []string {
	out := make([]string, 0, len(s.Assistant)+len(s.User))
	out = append(out, s.Assistant...)
	return append(out, s.User...)
}

// Catalog is immutable once built and safe to share between goroutines.
type Catalog struct {
	fields   []FieldDefinition
	index    map[FieldKey]int
	speakers Speakers
}

type fileSpec struct {
	Speakers Speakers    `yaml:"speakers"`
	Fields   []fieldSpec `yaml:"fields"`
}

type fieldSpec struct {
	Key       string     `yaml:"key"`
	Name      string     `yaml:"name"`
	Phrasings []string   `yaml:"phrasings"`
	Patterns  []ruleSpec `yaml:"patterns"`
	Fallback  []ruleSpec `yaml:"fallback"`
}

// Default returns the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// MustDefault is Default for package-level initialisation and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads a catalog from a YAML file. An empty path yields the default.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML and validates it.
func Parse(data []byte) (*Catalog, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(spec.Fields) == 0 {
		return nil, errors.New("catalog has no fields")
	}

	c := &Catalog{
		fields:   make([]FieldDefinition, 0, len(spec.Fields)),
		index:    make(map[FieldKey]int, len(spec.Fields)),
		speakers: spec.Speakers,
	}
	for _, fs := range spec.Fields {
		key := FieldKey(strings.TrimSpace(fs.Key))
		if key == "" {
			return nil, errors.New("catalog field with empty key")
		}
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("duplicate catalog field %q", key)
		}
		if strings.TrimSpace(fs.Name) == "" {
			return nil, fmt.Errorf("field %q: empty display name", key)
		}

		def := FieldDefinition{
			Key:         key,
			DisplayName: fs.Name,
			Phrasings:   append([]string(nil), fs.Phrasings...),
		}
		var err error
		if def.Patterns, err = compileRules(fs.Patterns); err != nil {
			return nil, fmt.Errorf("field %q patterns: %w", key, err)
		}
		if def.Fallback, err = compileRules(fs.Fallback); err != nil {
			return nil, fmt.Errorf("field %q fallback: %w", key, err)
		}

		c.index[key] = len(c.fields)
		c.fields = append(c.fields, def)
	}
	return c, nil
}

// Definitions returns the field definitions in catalog order.
func (c *Catalog) Definitions() []FieldDefinition {
	out := make([]FieldDefinition, len(c.fields))
	for i, def := range c.fields {
		out[i] = def.clone()
	}
	return out
}

// Lookup returns the definition for key.
func (c *Catalog) Lookup(key FieldKey) (FieldDefinition, bool) {
	i, ok := c.index[key]
	if !ok {
		return FieldDefinition{}, false
	}
	return c.fields[i].clone(), true
}

func (d FieldDefinition) clone() FieldDefinition {
	d.Phrasings = slices.Clone(d.Phrasings)
	d.Patterns = cloneRules(d.Patterns)
	d.Fallback = cloneRules(d.Fallback)
	return d
}

// cloneRules copies the rule slices. Compiled patterns are shared; a Regexp
// is safe for concurrent use.
func cloneRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if r.When != nil {
			when := make([][]string, len(r.When))
			for j, group := range r.When {
				when[j] = slices.Clone(group)
			}
			r.When = when
		}
		out[i] = r
	}
	return out
}

// Keys returns the field keys in catalog order.
func (c *Catalog) Keys() []FieldKey {
	keys := make([]FieldKey, len(c.fields))
	for i, f := range c.fields {
		keys[i] = f.Key
	}
	return keys
}

func (c *Catalog) Len() int { return len(c.fields) }

func (c *Catalog) Speakers() Speakers { return c.speakers }

func compileRules(specs []ruleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, rs := range specs {
		r, err := rs.compile()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rs.Name, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
