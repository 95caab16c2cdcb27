package catalog

import (
	"strings"
	"testing"
)

func TestDefault_FieldOrder(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}

	want := []FieldKey{
		"motivation", "expectations", "disappointments", "concerns",
		"nextDestination", "timeline", "askingPrice", "opennessToRelist",
	}
	got := c.Keys()
	if len(got) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLookup(t *testing.T) {
	c := MustDefault()

	def, ok := c.Lookup("nextDestination")
	if !ok {
		t.Fatal("expected nextDestination to exist")
	}
	if def.DisplayName != "Next Destination" {
		t.Errorf("expected display name Next Destination, got %q", def.DisplayName)
	}
	if def.Phrasings[0] != "Where are you planning to go after you sell?" {
		t.Errorf("unexpected first phrasing %q", def.Phrasings[0])
	}

	if _, ok := c.Lookup("favouriteColour"); ok {
		t.Error("expected unknown key to be absent")
	}
}

func TestDefinitions_ReturnsCopy(t *testing.T) {
	c := MustDefault()

	defs := c.Definitions()
	defs[0].DisplayName = "mutated"

	defs[0].Phrasings[0] = "mutated"
	defs[0].Patterns[0].When[0][0] = "mutated"
	defs[0].Patterns[0].Value = "mutated"

	again := c.Definitions()
	if again[0].DisplayName == "mutated" {
		t.Error("Definitions must not expose the catalog's backing slice")
	}

	def, _ := c.Lookup(again[0].Key)
	if def.Phrasings[0] == "mutated" {
		t.Error("phrasings share storage with the catalog")
	}
	if def.Patterns[0].When[0][0] == "mutated" || def.Patterns[0].Value == "mutated" {
		t.Errorf("rules share storage with the catalog: %+v", def.Patterns[0])
	}

	def.Fallback[0].When[0][0] = "mutated"
	if again, _ := c.Lookup(def.Key); again.Fallback[0].When[0][0] == "mutated" {
		t.Error("Lookup must return a copy")
	}
}

func TestSpeakers(t *testing.T) {
	s := MustDefault().Speakers()

	tests := []struct {
		label string
		want  bool
	}{
		{"Olivia", true},
		{"assistant", true},
		{"AI Assistant", true},
		{"ai", true},
		{"Michael", false},
		{"User", false},
	}
	for _, tt := range tests {
		if got := s.IsAssistant(tt.label); got != tt.want {
			t.Errorf("IsAssistant(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
	if len(s.All()) != 7 {
		t.Errorf("expected 7 labels, got %d", len(s.All()))
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "fields: []", "no fields"},
		{"bad yaml", "fields: [", "parse catalog"},
		{"duplicate", "fields:\n  - {key: a, name: A}\n  - {key: a, name: B}", "duplicate"},
		{"no name", "fields:\n  - {key: a}", "display name"},
		{"bad regexp", "fields:\n  - key: a\n    name: A\n    patterns:\n      - {name: r, pattern: '(', confidence: 90}", "compile pattern"},
		{"confidence range", "fields:\n  - key: a\n    name: A\n    patterns:\n      - {name: r, when: [[x]], value: X, confidence: 101}", "out of range"},
		{"no condition", "fields:\n  - key: a\n    name: A\n    patterns:\n      - {name: r, value: X, confidence: 90}", "when or pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile_EmptyPathUsesDefault(t *testing.T) {
	c, err := LoadFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 8 {
		t.Errorf("expected 8 fields, got %d", c.Len())
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/catalog.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
