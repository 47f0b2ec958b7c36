package query

import (
	"fmt"
	"regexp"
)

// Rule maps operations whose text matches Pattern to Type.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Type    Type
}

// NewRule compiles pattern into a Rule.
func NewRule(name, pattern string, typ Type) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("query: rule %q: %w", name, err)
	}
	return Rule{Name: name, Pattern: re, Type: typ}, nil
}

// MustRule is NewRule that panics on an invalid pattern. Intended for
// package-level rule tables.
func MustRule(name, pattern string, typ Type) Rule {
	r, err := NewRule(name, pattern, typ)
	if err != nil {
		panic(err)
	}
	return r
}

const (
	// DefaultReadRule names the outcome for reads no rule matched.
	DefaultReadRule = "default-read"
	// DefaultWriteRule names the outcome for writes no rule matched.
	DefaultWriteRule = "default-write"
)

// block or line comments, skipped so hints never hide the verb.
const (
	comments        = `(?:/\*.*?\*/\s*|--[^\n]*\n\s*)*`
	leadingComments = `^\s*` + comments
	mutatingVerbs   = `(INSERT|UPDATE|DELETE|MERGE|UPSERT|REPLACE|CREATE|ALTER|DROP|TRUNCATE|GRANT|REVOKE|CALL|LOCK|VACUUM|REINDEX|COPY)\b`
)

var defaultRules = []Rule{
	MustRule("write-statement", `(?is)`+leadingComments+`(INSERT|UPDATE|DELETE|MERGE|UPSERT|REPLACE|CREATE|ALTER|DROP|TRUNCATE|GRANT|REVOKE|CALL|LOCK|VACUUM|REINDEX)\b`, Write),
	MustRule("write-cte", `(?is)`+leadingComments+`WITH\b.*\b(INSERT\s+INTO|UPDATE\s+\S+\s+SET|DELETE\s+FROM)\b`, Write),
	MustRule("multi-statement-write", `(?is);\s*`+comments+mutatingVerbs, Write),
	MustRule("select-into", `(?is)`+leadingComments+`SELECT\b[^;]*?\bINTO\s+(?:(?:TEMP|TEMPORARY|UNLOGGED|TABLE)\s+)*[a-z_"]`, Write),
	MustRule("sequence-or-lock-function", `(?i)\b(nextval|setval|pg_(?:try_)?advisory(?:_xact)?_lock(?:_shared)?)\s*\(`, Write),
	MustRule("copy-out", `(?is)`+leadingComments+`COPY\b.*\bTO\s+(STDOUT|'[^']*')`, ReadBulk),
	MustRule("copy-in", `(?is)`+leadingComments+`COPY\b`, Write),
	MustRule("locking-read", `(?i)\bFOR\s+(UPDATE|SHARE|NO\s+KEY\s+UPDATE|KEY\s+SHARE)\b`, ReadCritical),
	MustRule("critical-hint", `(?i)/\*\s*critical\s*\*/`, ReadCritical),
	MustRule("bulk-hint", `(?i)/\*\s*bulk\s*\*/`, ReadBulk),
	MustRule("large-limit", `(?i)\bLIMIT\s+\d{4,}\b`, ReadBulk),
	MustRule("aggregate", `(?i)\b(COUNT|SUM|AVG|MIN|MAX|STDDEV|VARIANCE|ARRAY_AGG|STRING_AGG|JSON_AGG|PERCENTILE_CONT|PERCENTILE_DISC)\s*\(`, ReadAnalytical),
	MustRule("grouping", `(?i)\b(GROUP\s+BY|ROLLUP|CUBE|GROUPING\s+SETS)\b`, ReadAnalytical),
	MustRule("window", `(?i)\bOVER\s*\(`, ReadAnalytical),
	MustRule("analytics-hint", `(?i)/\*\s*analytics?\s*\*/`, ReadAnalytical),
}

var (
	readShape  = regexp.MustCompile(`(?is)` + leadingComments + `(SELECT|WITH|SHOW|EXPLAIN|VALUES|TABLE|DESCRIBE)\b`)
	writeVerbs = regexp.MustCompile(`(?i)\b(insert|update|delete|upsert|create|save|put|remove|destroy|set|write|patch)\b`)
)

// DefaultRules returns a copy of the built-in rule table.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

// Classifier maps operation text to a Type using an ordered rule list, first
// match wins. A Classifier is immutable and safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier over rules. With no rules the built-in
// table is used.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = defaultRules
	}
	cp := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == nil {
			continue
		}
		cp = append(cp, r)
	}
	return &Classifier{rules: cp}
}

// WithRules returns a classifier that evaluates extra before the receiver's rules.
func (c *Classifier) WithRules(extra ...Rule) *Classifier {
	combined := make([]Rule, 0, len(extra)+len(c.rules))
	combined = append(combined, extra...)
	combined = append(combined, c.rules...)
	return NewClassifier(combined...)
}

// Rules returns a copy of the ordered rule list.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify returns the type of q.
func (c *Classifier) Classify(q string) Type {
	t, _ := c.Explain(q)
	return t
}

// Explain returns the type of q together with the name of the rule that
// produced it.
func (c *Classifier) Explain(q string) (Type, string) {
	for _, r := range c.rules {
		if r.Pattern.MatchString(q) {
			return r.Type, r.Name
		}
	}
	if looksLikeWrite(q) {
		return Write, DefaultWriteRule
	}
	return ReadSession, DefaultReadRule
}

// looksLikeWrite is the fallback for text no rule claimed. Recognisable read
// statements are reads; anything else is a write if it carries a mutating verb.
func looksLikeWrite(q string) bool {
	if readShape.MatchString(q) {
		return false
	}
	return writeVerbs.MatchString(q)
}
