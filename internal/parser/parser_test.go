package parser

import (
	"errors"
	"testing"

	"github.com/starford/cookshelf/internal/apperr"
)

func TestParse_Frontmatter(t *testing.T) {
	input := []byte("---\ntitle: Tomato Soup\nservings: 4\ntags:\n  - soup\n  - vegan\n---\nChop @tomatoes{3}.\n")
	m, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Title != "Tomato Soup" {
		t.Errorf("title = %q, want %q", m.Title, "Tomato Soup")
	}
	if m.Servings != 4 {
		t.Errorf("servings = %d, want 4", m.Servings)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "soup" || m.Tags[1] != "vegan" {
		t.Errorf("tags = %v, want [soup vegan]", m.Tags)
	}
}

func TestParse_LegacyMetadata(t *testing.T) {
	input := []byte(">> title: Beef Stew\n>> Servings: 6-8\n>> tags: dinner, winter ,dinner\n\nBrown the @beef{1%kg}.\n")
	m, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Title != "Beef Stew" {
		t.Errorf("title = %q", m.Title)
	}
	if m.Servings != 6 {
		t.Errorf("servings = %d, want 6", m.Servings)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "dinner" || m.Tags[1] != "winter" {
		t.Errorf("tags = %v, want [dinner winter]", m.Tags)
	}
}

func TestParse_FrontmatterOverridesLegacy(t *testing.T) {
	input := []byte("---\ntitle: From YAML\n---\n>> title: From line\n>> serves: 2\n")
	m, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Title != "From YAML" {
		t.Errorf("title = %q, want front matter value", m.Title)
	}
	if m.Servings != 2 {
		t.Errorf("servings = %d, want 2 from serves", m.Servings)
	}
}

func TestParse_NoMetadata(t *testing.T) {
	m, err := Parse([]byte("Boil @water{1%l}.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Title != "" || m.Servings != 0 {
		t.Errorf("got %+v, want empty title and zero servings", m)
	}
	if m.Tags == nil || len(m.Tags) != 0 {
		t.Errorf("tags = %#v, want empty non-nil slice", m.Tags)
	}
}

func TestParse_Failures(t *testing.T) {
	cases := map[string][]byte{
		"invalid yaml":  []byte("---\n: invalid: yaml: {{{\n---\nBody\n"),
		"unterminated":  []byte("---\ntitle: Soup\nBody\n"),
		"invalid utf-8": {0xff, 0xfe, 0xfd},
	}
	for name, input := range cases {
		_, err := Parse(input)
		if !errors.Is(err, apperr.ErrParse) {
			t.Errorf("%s: err = %v, want ErrParse", name, err)
		}
	}
}

func TestServingsField(t *testing.T) {
	cases := []struct {
		v    any
		want int
	}{
		{3, 3},
		{2.0, 2},
		{"4 people", 4},
		{"2|4", 2},
		{"a few", 0},
		{0, 0},
		{-2, 0},
	}
	for _, tc := range cases {
		if got := servingsField(map[string]any{"servings": tc.v}); got != tc.want {
			t.Errorf("servingsField(%v) = %d, want %d", tc.v, got, tc.want)
		}
	}
}

func TestClosingDelim(t *testing.T) {
	tests := []struct {
		name string
		rest string
		want int
	}{
		{"newline", "\ntitle: a\n---\nbody", 9},
		{"crlf", "\r\ntitle: a\r\n---\r\nbody", 11},
		{"eof", "\ntitle: a\n---", 9},
		{"longer rule skipped", "\ntitle: a\n----\n---\n", 14},
		{"suffix skipped", "\ntitle: a\n---foo\n", -1},
		{"none", "\ntitle: a\n", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := closingDelim([]byte(tt.rest), "---"); got != tt.want {
				t.Errorf("closingDelim(%q) = %d, want %d", tt.rest, got, tt.want)
			}
		})
	}
}

func TestParse_FrontmatterClosedAtEOF(t *testing.T) {
	m, err := Parse([]byte("---\ntitle: Soup\n---"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Title != "Soup" {
		t.Errorf("title = %q, want Soup", m.Title)
	}
}

func TestParse_DashRuleDoesNotCloseFrontmatter(t *testing.T) {
	_, err := Parse([]byte("---\ntitle: Soup\n----\nStir.\n"))
	if !errors.Is(err, apperr.ErrParse) {
		t.Errorf("err = %v, want ErrParse (unterminated)", err)
	}
}
