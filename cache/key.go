package cache

import (
	"fmt"
	"strings"
)

// BuildKey substitutes {name} placeholders in template with values from
// params. Every placeholder must have a parameter; extra parameters are
// ignored. Values are rendered with FormatKeyValue.
//
//	BuildKey("dashboard:{tenant}:{range}", map[string]any{"tenant": 7, "range": "30d"})
//	// dashboard:7:30d
func BuildKey(template string, params map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return "", fmt.Errorf("%w: unmatched '}' in %q", ErrInvalidKeyTemplate, template)
			}
			b.WriteString(rest)
			return b.String(), nil
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return "", fmt.Errorf("%w: unmatched '}' in %q", ErrInvalidKeyTemplate, template)
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated placeholder in %q", ErrInvalidKeyTemplate, template)
		}
		name := strings.TrimSpace(rest[open+1 : open+end])
		if name == "" {
			return "", fmt.Errorf("%w: empty placeholder in %q", ErrInvalidKeyTemplate, template)
		}
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("%w: missing parameter %q", ErrInvalidKeyTemplate, name)
		}
		b.WriteString(rest[:open])
		b.WriteString(FormatKeyValue(value))
		rest = rest[open+end+1:]
	}
}

// KeyTemplate is a reusable key template.
type KeyTemplate string

// Build is BuildKey over the template.
func (t KeyTemplate) Build(params map[string]any) (string, error) {
	return BuildKey(string(t), params)
}

// Prefix returns the literal text before the first placeholder, suitable as
// an invalidation prefix for every key built from the template.
func (t KeyTemplate) Prefix() string {
	s := string(t)
	if i := strings.IndexByte(s, '{'); i >= 0 {
		return s[:i]
	}
	return s
}
