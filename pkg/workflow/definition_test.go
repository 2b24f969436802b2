package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDefinition(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}

func TestLoadDefinition_YAML(t *testing.T) {
	path := writeDefinition(t, "wf.yaml", `
name: demo
steps:
  - id: fetch
    kind: mcp_tool
    server: demo-server
    tool: fetch
  - id: use
    kind: mcp_tool
    server: demo-server
    tool: consume
    dependsOn: [fetch]
    args:
      value:
        $ref:
          step: fetch
          path: result
`)

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	wf, err := def.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(wf.StepOrder()) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(wf.StepOrder()))
	}
	step, ok := wf.StepByID("use")
	if !ok {
		t.Fatal("expected step \"use\" to exist")
	}
	ref, ok := step.Arguments["value"].(StepRef)
	if !ok || ref.StepID != "fetch" || ref.Path != "result" {
		t.Fatalf("expected resolved StepRef, got %#v", step.Arguments["value"])
	}
}

func TestLoadDefinition_JSON(t *testing.T) {
	path := writeDefinition(t, "wf.json", `{
		"name": "demo",
		"steps": [{"id": "a", "kind": "conditional", "expr": "true"}]
	}`)

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	wf, err := def.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := wf.StepByID("a"); !ok {
		t.Fatal("expected step \"a\" to exist")
	}
}

func TestLoadDefinition_MissingNameFails(t *testing.T) {
	path := writeDefinition(t, "wf.yaml", `steps: []`)
	if _, err := LoadDefinition(path); err == nil {
		t.Fatal("expected error for a definition missing \"name\"")
	}
}

func TestDefinition_Build_UnsupportedKindFails(t *testing.T) {
	def := &Definition{Name: "demo", Steps: []StepDefinition{{ID: "x", Kind: "custom"}}}
	if _, err := def.Build(); err == nil {
		t.Fatal("expected error for an unsupported declarative step kind")
	}
}

func TestDefinition_Build_MalformedRefFails(t *testing.T) {
	def := &Definition{Name: "demo", Steps: []StepDefinition{{
		ID: "x", Kind: "mcp_tool", Server: "s", Tool: "t",
		Args: map[string]any{"value": map[string]any{"$ref": "not-an-object"}},
	}}}
	if _, err := def.Build(); err == nil {
		t.Fatal("expected error for a malformed $ref")
	}
}
