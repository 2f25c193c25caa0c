package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
	Nested  struct {
		MaxItems int `yaml:"max_items" split_words:"true"`
	} `yaml:"nested"`
}

func (s *sample) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsAndOverlays(t *testing.T) {
	t.Setenv("SAMPLE_NAME_SRC", "from-expand")
	t.Setenv("TST_NESTED_MAX_ITEMS", "7")
	path := writeFile(t, "name: ${SAMPLE_NAME_SRC}\ntimeout: 5s\nnested:\n  max_items: 3\n")

	var s sample
	if err := Load(path, &s, WithEnvPrefix("TST")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "from-expand" {
		t.Errorf("name = %q", s.Name)
	}
	if s.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", s.Timeout)
	}
	if s.Nested.MaxItems != 7 {
		t.Errorf("max_items = %d, want env override 7", s.Nested.MaxItems)
	}
}

func TestLoad_Validates(t *testing.T) {
	path := writeFile(t, "timeout: 1s\n")
	var s sample
	err := Load(path, &s)
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadWithDefaults_Fallback(t *testing.T) {
	def := writeFile(t, "name: default\n")
	var s sample
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), def, &s); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if s.Name != "default" {
		t.Errorf("name = %q", s.Name)
	}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), "", &s); err == nil {
		t.Fatal("expected error without default file")
	}
}
