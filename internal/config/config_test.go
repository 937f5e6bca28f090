package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "sweagent.yaml", `
provider:
  name: anthropic
  api_key: test-key
`)
	cfg, err := Load([]string{path}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "anthropic" || cfg.Provider.APIKey != "test-key" {
		t.Fatalf("unexpected provider config: %#v", cfg.Provider)
	}
	if cfg.Loop.RetryCap != 2 {
		t.Fatalf("expected default RetryCap of 2, got %d", cfg.Loop.RetryCap)
	}
	if cfg.Batch.Workers != 1 {
		t.Fatalf("expected default Workers of 1, got %d", cfg.Batch.Workers)
	}
}

func TestLoadDeepMergesRepeatedFiles(t *testing.T) {
	base := writeConfigFile(t, "base.yaml", `
provider:
  name: anthropic
  api_key: from-base
loop:
  cost_limit: 2.5
`)
	override := writeConfigFile(t, "override.yaml", `
provider:
  api_key: from-override
loop:
  retry_cap: 5
`)
	cfg, err := Load([]string{base, override}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Fatalf("expected provider.name to survive the merge, got %q", cfg.Provider.Name)
	}
	if cfg.Provider.APIKey != "from-override" {
		t.Fatalf("expected the later file's api_key to win, got %q", cfg.Provider.APIKey)
	}
	if cfg.Loop.CostLimit != 2.5 {
		t.Fatalf("expected cost_limit preserved from the base file, got %v", cfg.Loop.CostLimit)
	}
	if cfg.Loop.RetryCap != 5 {
		t.Fatalf("expected retry_cap from the override file, got %d", cfg.Loop.RetryCap)
	}
}

func TestLoadAppliesDottedOverrides(t *testing.T) {
	base := writeConfigFile(t, "base.yaml", `
provider:
  name: openai
loop:
  cost_limit: 1.0
`)
	cfg, err := Load([]string{base}, []string{"provider.default_model=gpt-4o", "loop.cost_limit=9.5", "batch.redo=true"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.DefaultModel != "gpt-4o" {
		t.Fatalf("unexpected default_model: %q", cfg.Provider.DefaultModel)
	}
	if cfg.Loop.CostLimit != 9.5 {
		t.Fatalf("unexpected cost_limit: %v", cfg.Loop.CostLimit)
	}
	if !cfg.Batch.Redo {
		t.Fatal("expected batch.redo override to parse as bool true")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, "typo.yaml", `
provider:
  nmae: anthropic
`)
	if _, err := Load([]string{path}, nil); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadResolvesRelativePathsAgainstConfigRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sweagent.yaml"), []byte("provider:\n  name: gemini\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CONFIG_ROOT", dir)

	cfg, err := Load([]string{"sweagent.yaml"}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "gemini" {
		t.Fatalf("expected CONFIG_ROOT-relative load to succeed, got %#v", cfg.Provider)
	}
}

func TestApplyOverrideCreatesNestedPath(t *testing.T) {
	raw := map[string]any{}
	if err := applyOverride(raw, "tools.watch=true"); err != nil {
		t.Fatalf("applyOverride: %v", err)
	}
	tools, ok := raw["tools"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested tools map, got %#v", raw)
	}
	if tools["watch"] != true {
		t.Fatalf("expected watch=true, got %#v", tools["watch"])
	}
}

func TestApplyOverrideRejectsMissingEquals(t *testing.T) {
	raw := map[string]any{}
	if err := applyOverride(raw, "tools.watch"); err == nil {
		t.Fatal("expected an error for an override with no '='")
	}
}
