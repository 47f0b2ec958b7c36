package repositorycache

import (
	"reflect"
	"strings"
	"unicode"
)

// toSnake converts s to snake_case. Every run of characters that are not
// letters or digits collapses into one underscore, so reflected names such
// as "*models.User" or "Page[int]" yield usable namespaces.
func toSnake(s string) string {
	runes := []rune(s)
	var (
		b     strings.Builder
		under bool
	)
	b.Grow(len(s) + len(s)/2)
	sep := func() {
		if b.Len() > 0 && !under {
			b.WriteByte('_')
			under = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i > 0 && !unicode.IsDigit(runes[i-1]) {
				sep()
			}
			b.WriteRune(r)
		default:
			sep()
			continue
		}
		under = false
	}
	return strings.TrimSuffix(b.String(), "_")
}

// namespaceOf derives the default key namespace from the record type.
func namespaceOf[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	ns := toSnake(name)
	if ns == "" {
		return "record"
	}
	return ns
}
