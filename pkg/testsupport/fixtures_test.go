package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFixture(t *testing.T) {
	path := WriteTempFile(t, "test.txt", []byte("test fixture content"))

	result := LoadFixture(t, path)
	if string(result) != "test fixture content" {
		t.Errorf("expected fixture content, got %q", result)
	}
}

func TestLoadFixtureJSON(t *testing.T) {
	path := WriteTempFile(t, "test.json", []byte(`{"name":"test","value":42,"items":["a","b","c"]}`))

	var result struct {
		Name  string   `json:"name"`
		Value int      `json:"value"`
		Items []string `json:"items"`
	}
	LoadFixtureJSON(t, path, &result)

	if result.Name != "test" || result.Value != 42 || len(result.Items) != 3 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestLoadFixtureYAML(t *testing.T) {
	path := WriteTempFile(t, "test.yaml", []byte("name: primary\npriority: 10\naffinity:\n  - READ_CRITICAL\n"))

	var result struct {
		Name     string   `yaml:"name"`
		Priority int      `yaml:"priority"`
		Affinity []string `yaml:"affinity"`
	}
	LoadFixtureYAML(t, path, &result)

	if result.Name != "primary" || result.Priority != 10 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(result.Affinity) != 1 || result.Affinity[0] != "READ_CRITICAL" {
		t.Errorf("unexpected affinity %v", result.Affinity)
	}
}

func TestWriteTempFile(t *testing.T) {
	path := WriteTempFile(t, "config.yaml", []byte("a: 1"))

	if filepath.Base(path) != "config.yaml" {
		t.Errorf("expected file name to be kept, got %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %v", err)
	}
}

func TestFixturePath(t *testing.T) {
	expected := filepath.Join("testdata", "queries.yaml")
	if got := FixturePath("queries.yaml"); got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}
