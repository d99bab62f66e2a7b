package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	s.valid = true
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "table-one")
	path := writeFile(t, "name: ${SAMPLE_NAME}\n")

	s := sample{Port: 8080}
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "table-one" || s.Port != 8080 || !s.valid {
		t.Errorf("loaded = %+v", s)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "name: x\nprot: 9000\n")
	s := sample{Port: 1}
	err := Load(path, &s)
	if err == nil || !strings.Contains(err.Error(), "prot") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "")
	s := sample{Port: 1}
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	s := sample{Port: 1}
	err := Load(path, &s)
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s := sample{}
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithDefaults_MissingFileValidatesDefaults(t *testing.T) {
	s := sample{Port: 7}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if !s.valid {
		t.Error("defaults were not validated")
	}

	bad := sample{}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "nope.yaml"), &bad); err == nil {
		t.Error("invalid defaults accepted")
	}
}
