package cacheinfra

import (
	"strings"

	"github.com/gobwas/glob"
)

// Matcher reports whether a cache key is selected by an invalidation pattern.
type Matcher interface {
	Match(key string) bool
}

// PatternKind classifies an invalidation pattern.
type PatternKind int

const (
	PatternExact PatternKind = iota
	PatternPrefix
	PatternGlob
)

const globMeta = "*?[]{}"

// KindOf returns how pattern is interpreted: a trailing '*' on otherwise
// literal text is a prefix, any other glob metacharacter makes it a glob,
// everything else is an exact key.
func KindOf(pattern string) PatternKind {
	if !strings.ContainsAny(pattern, globMeta) {
		return PatternExact
	}
	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(strings.TrimSuffix(pattern, "*"), globMeta) {
		return PatternPrefix
	}
	return PatternGlob
}

// CompileMatcher builds the Matcher for pattern.
func CompileMatcher(pattern string) (Matcher, error) {
	switch KindOf(pattern) {
	case PatternExact:
		return exactMatcher(pattern), nil
	case PatternPrefix:
		return prefixMatcher(strings.TrimSuffix(pattern, "*")), nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, &ConfigError{Field: "pattern", Message: err.Error()}
	}
	return g, nil
}

type exactMatcher string

func (m exactMatcher) Match(key string) bool { return key == string(m) }

type prefixMatcher string

func (m prefixMatcher) Match(key string) bool { return strings.HasPrefix(key, string(m)) }
