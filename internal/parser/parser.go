// Package parser extracts recipe metadata (title, servings, tags) from
// Cooklang text. Metadata comes from a YAML front matter block and from
// legacy ">> key: value" lines; front matter wins when both set a key.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/cookshelf/internal/apperr"
)

var (
	metaLineRe   = regexp.MustCompile(`^>>\s*([^:]+?)\s*:\s*(.*?)\s*$`)
	leadingIntRe = regexp.MustCompile(`^\s*(\d+)`)
)

// Metadata is the part of a recipe the index cares about.
type Metadata struct {
	Title    string
	Servings int // 0 when the recipe does not say
	Tags     []string
	Fields   map[string]any
}

// Parse extracts metadata from raw recipe text. It fails with an error
// wrapping apperr.ErrParse when the text is not UTF-8 or the front matter is
// unterminated or not valid YAML.
func Parse(data []byte) (*Metadata, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: recipe is not valid UTF-8", apperr.ErrParse)
	}

	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	fields := legacyMetadata(body)
	for k, v := range fm {
		fields[strings.ToLower(k)] = v
	}

	return &Metadata{
		Title:    stringField(fields["title"]),
		Servings: servingsField(fields),
		Tags:     tagsField(fields["tags"]),
		Fields:   fields,
	}, nil
}

// splitFrontmatter separates a leading YAML block between --- delimiters
// from the recipe body.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim+"\n")) && !bytes.HasPrefix(trimmed, []byte(delim+"\r\n")) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := closingDelim(rest, delim)
	if idx < 0 {
		return nil, "", fmt.Errorf("%w: unterminated front matter", apperr.ErrParse)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", fmt.Errorf("%w: front matter: %v", apperr.ErrParse, err)
	}
	return fm, body, nil
}

// closingDelim returns the offset of the newline that starts a line made of
// delim alone, or -1. Lines such as "----" or "---foo" do not close the block.
func closingDelim(rest []byte, delim string) int {
	marker := []byte("\n" + delim)
	for off := 0; ; {
		i := bytes.Index(rest[off:], marker)
		if i < 0 {
			return -1
		}
		i += off
		tail := rest[i+len(marker):]
		if len(tail) == 0 || tail[0] == '\n' || bytes.HasPrefix(tail, []byte("\r\n")) {
			return i
		}
		off = i + 1
	}
}

// legacyMetadata collects ">> key: value" lines. Later lines override
// earlier ones.
func legacyMetadata(body string) map[string]any {
	out := make(map[string]any)
	for _, line := range strings.Split(body, "\n") {
		m := metaLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		out[strings.ToLower(m[1])] = m[2]
	}
	return out
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// servingsField reads "servings" or "serves". Ranges and lists such as
// "4-6" or "2|4" yield their first number.
func servingsField(fields map[string]any) int {
	for _, key := range []string{"servings", "serves"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		var n int
		switch t := v.(type) {
		case int:
			n = t
		case float64:
			n = int(t)
		case string:
			if m := leadingIntRe.FindStringSubmatch(t); m != nil {
				n, _ = strconv.Atoi(m[1])
			}
		}
		if n > 0 {
			return n
		}
	}
	return 0
}

// tagsField accepts a YAML list or a comma-separated string and returns
// trimmed, de-duplicated tags in order of appearance.
func tagsField(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			raw = append(raw, stringField(item))
		}
	}

	seen := make(map[string]struct{}, len(raw))
	out := []string{}
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
