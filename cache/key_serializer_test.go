package cache

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

func TestDefaultKeySerializer_SerializeKey(t *testing.T) {
	s := NewDefaultKeySerializer()

	type user struct {
		ID      int
		Name    string
		private string
	}

	var nilPtr *int
	var nilSlice []int
	var nilMap map[string]int
	answer := 42

	tests := []struct {
		name   string
		method string
		args   []any
		want   string
	}{
		{name: "no args", method: "List", want: "List"},
		{name: "single scalar", method: "GetByID", args: []any{"42"}, want: joinWithSeparator("GetByID", "42")},
		{name: "mixed scalars", method: "Get", args: []any{1, "hello", true, 3.14}, want: joinWithSeparator("Get", "1", "hello", "true", "3.14")},
		{name: "nil", method: "Get", args: []any{nil}, want: joinWithSeparator("Get", "nil")},
		{name: "nil pointer", method: "GetByPtr", args: []any{nilPtr}, want: joinWithSeparator("GetByPtr", "nil")},
		{name: "pointer is dereferenced", method: "GetByPtr", args: []any{&answer}, want: joinWithSeparator("GetByPtr", "42")},
		{name: "nil slice", method: "GetBySlice", args: []any{nilSlice}, want: joinWithSeparator("GetBySlice", "slice:nil")},
		{name: "nil map", method: "GetByMap", args: []any{nilMap}, want: joinWithSeparator("GetByMap", "map:nil")},
		{name: "empty slice", method: "GetByIDs", args: []any{[]int{}}, want: joinWithSeparator("GetByIDs", "slice[0]:{}")},
		{name: "nested slice", method: "GetByMatrix", args: []any{[][]int{{1, 2}, {3, 4}}}, want: joinWithSeparator("GetByMatrix", "slice[2]:{slice[2]:{1,2},slice[2]:{3,4}}")},
		{name: "array", method: "GetByArray", args: []any{[3]int{1, 2, 3}}, want: joinWithSeparator("GetByArray", "array[3]:{1,2,3}")},
		{name: "map sorted", method: "GetByFilters", args: []any{map[string]int{"count": 10, "age": 25}}, want: joinWithSeparator("GetByFilters", "map[2]:{age=25,count=10}")},
		{name: "struct exported fields", method: "GetUser", args: []any{user{ID: 1, Name: "alice", private: "x"}}, want: joinWithSeparator("GetUser", "struct:{ID:1,Name:alice}")},
		{name: "time uses text form", method: "Since", args: []any{time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}, want: joinWithSeparator("Since", "2024-03-01T12:00:00Z")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SerializeKey(tt.method, tt.args...)
			if got != tt.want {
				t.Errorf("SerializeKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultKeySerializer_FunctionCriteria(t *testing.T) {
	s := NewDefaultKeySerializer()
	criteria := func(int) int { return 0 }

	first := s.SerializeKey("Get", criteria)
	second := s.SerializeKey("Get", criteria)

	if first != second {
		t.Errorf("expected stable key for the same function, got %q and %q", first, second)
	}
	if !strings.HasPrefix(first, joinWithSeparator("Get", "func:0x")) {
		t.Errorf("expected func pointer formatting, got %q", first)
	}
}

func TestDefaultKeySerializer_MapOrderIndependent(t *testing.T) {
	s := NewDefaultKeySerializer()

	a := s.SerializeKey("Find", map[string]any{"a": 1, "b": 2, "c": 3})
	for i := 0; i < 20; i++ {
		b := s.SerializeKey("Find", map[string]any{"c": 3, "a": 1, "b": 2})
		if a != b {
			t.Fatalf("expected deterministic key, got %q and %q", a, b)
		}
	}
}

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]any
		want     string
		wantErr  bool
	}{
		{name: "literal", template: "dashboard:global", want: "dashboard:global"},
		{name: "placeholders", template: "dashboard:{tenant}:{range}", params: map[string]any{"tenant": 7, "range": "30d"}, want: "dashboard:7:30d"},
		{name: "extra params ignored", template: "user:{id}", params: map[string]any{"id": "u1", "unused": true}, want: "user:u1"},
		{name: "spaces in placeholder", template: "user:{ id }", params: map[string]any{"id": 3}, want: "user:3"},
		{name: "missing param", template: "user:{id}", params: map[string]any{}, wantErr: true},
		{name: "unterminated", template: "user:{id", params: map[string]any{"id": 1}, wantErr: true},
		{name: "empty placeholder", template: "user:{}", wantErr: true},
		{name: "stray close", template: "user:id}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildKey(tt.template, tt.params)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKeyTemplate) {
					t.Errorf("expected ErrInvalidKeyTemplate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildKey() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyTemplate_Prefix(t *testing.T) {
	tpl := KeyTemplate("sales:{region}:{day}")

	if tpl.Prefix() != "sales:" {
		t.Errorf("expected prefix sales:, got %q", tpl.Prefix())
	}

	key, err := tpl.Build(map[string]any{"region": "emea", "day": 3})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if !strings.HasPrefix(key, tpl.Prefix()) {
		t.Errorf("expected %q to start with %q", key, tpl.Prefix())
	}
}
