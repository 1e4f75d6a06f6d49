package resource

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
models:
  - id: gpt-4o
    name: GPT-4o
    provider: openai
  - id: claude
    name: Claude
    provider: anthropic
datasets:
  - id: kb-1
    name: Handbook
tools:
  - id: web_search
    name: Web Search
  - id: ""
    name: ignored
`

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	m, ok := cat.Lookup(KindModel, "gpt-4o")
	if !ok {
		t.Fatal("model gpt-4o not found")
	}
	if m.Name != "GPT-4o" || m.Provider != "openai" || m.Kind != KindModel {
		t.Errorf("model = %+v", m)
	}
	if _, ok := cat.Lookup(KindDataset, "gpt-4o"); ok {
		t.Error("lookup crossed kinds")
	}
	if cat.Len() != 4 {
		t.Errorf("Len() = %d, want 4", cat.Len())
	}

	models := cat.List(KindModel)
	if len(models) != 2 || models[0].ID != "claude" {
		t.Errorf("List(model) = %+v, want sorted by id", models)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("models: [")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, ok := cat.Lookup(KindTool, "web_search"); !ok {
		t.Error("tool web_search not found")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStatic_NilLookup(t *testing.T) {
	var s *Static
	if _, ok := s.Lookup(KindModel, "x"); ok {
		t.Error("nil catalog found a resource")
	}
}
