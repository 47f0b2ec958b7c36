package query

import (
	"fmt"
	"strings"
)

// Type is the routing category of an operation. It is derived per call and
// never stored.
type Type int

const (
	Write Type = iota
	ReadCritical
	ReadAnalytical
	ReadSession
	ReadBulk
)

var typeNames = [...]string{
	Write:          "WRITE",
	ReadCritical:   "READ_CRITICAL",
	ReadAnalytical: "READ_ANALYTICAL",
	ReadSession:    "READ_SESSION",
	ReadBulk:       "READ_BULK",
}

// Types lists every query type in declaration order.
func Types() []Type {
	return []Type{Write, ReadCritical, ReadAnalytical, ReadSession, ReadBulk}
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// IsRead reports whether t is one of the read categories.
func (t Type) IsRead() bool {
	return t != Write
}

// RequiresPrimary reports whether operations of type t must only ever be
// served by the primary pool.
func (t Type) RequiresPrimary() bool {
	return t == Write || t == ReadCritical
}

// ParseType accepts the canonical names (WRITE, READ_SESSION, ...) in any
// case, with dashes or underscores.
func ParseType(s string) (Type, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range typeNames {
		if name == norm {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("query: unknown type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
