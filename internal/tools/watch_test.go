package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

const testBundleManifest = `
tools:
  - name: submit
    docstring: submits the final patch
    terminal: true
`

const testBundleManifestV2 = `
tools:
  - name: submit
    docstring: submits the final patch, v2
    terminal: true
  - name: goto
    docstring: moves the cursor
    arguments:
      - name: line_number
        type: integer
        required: true
        description: line
`

func writeBundleDir(t *testing.T, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundleManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return dir
}

func TestLoadBundleDirUsesDirNameAsDefault(t *testing.T) {
	dir := writeBundleDir(t, "edit", testBundleManifest)
	bundle, err := LoadBundleDir(dir)
	if err != nil {
		t.Fatalf("LoadBundleDir: %v", err)
	}
	if bundle.Name != "edit" {
		t.Fatalf("expected bundle name %q, got %q", "edit", bundle.Name)
	}
}

func TestLoadBundleDirsPopulatesRegistry(t *testing.T) {
	dir := writeBundleDir(t, "edit", testBundleManifest)
	reg := NewRegistry()
	if err := LoadBundleDirs(reg, []string{dir}); err != nil {
		t.Fatalf("LoadBundleDirs: %v", err)
	}
	if _, ok := reg.Get("submit"); !ok {
		t.Fatal("expected submit to be registered")
	}
}

func TestReplaceBundleSwapsToolsAtomically(t *testing.T) {
	reg := NewRegistry()
	if err := reg.LoadBundle(&swe.ToolBundle{
		Name:  "edit",
		Tools: []swe.ToolSpec{{Name: "submit", Docstring: "v1", Terminal: true}},
	}); err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}

	if err := reg.ReplaceBundle(&swe.ToolBundle{
		Name: "edit",
		Tools: []swe.ToolSpec{
			{Name: "submit", Docstring: "v2", Terminal: true},
			{Name: "goto", Docstring: "moves", Args: []swe.ToolArg{{Name: "line_number", Type: swe.ArgInteger, Required: true}}},
		},
	}); err != nil {
		t.Fatalf("ReplaceBundle: %v", err)
	}

	spec, ok := reg.Get("submit")
	if !ok || spec.Docstring != "v2" {
		t.Fatalf("expected submit to be replaced with v2, got %#v", spec)
	}
	if _, ok := reg.Get("goto"); !ok {
		t.Fatal("expected goto to be registered by the replacement bundle")
	}
}

func TestReplaceBundleRejectsCollisionWithAnotherBundle(t *testing.T) {
	reg := NewRegistry()
	if err := reg.LoadBundle(&swe.ToolBundle{
		Name:  "edit",
		Tools: []swe.ToolSpec{{Name: "submit", Docstring: "v1", Terminal: true}},
	}); err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if err := reg.LoadBundle(&swe.ToolBundle{
		Name:  "other",
		Tools: []swe.ToolSpec{{Name: "goto", Docstring: "moves"}},
	}); err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}

	err := reg.ReplaceBundle(&swe.ToolBundle{
		Name:  "edit",
		Tools: []swe.ToolSpec{{Name: "goto", Docstring: "collides"}},
	})
	if err == nil {
		t.Fatal("expected a collision with the other bundle's tool name to be rejected")
	}
	// the rejected replacement must not have evicted edit's original tools
	if _, ok := reg.Get("submit"); !ok {
		t.Fatal("expected edit's original tools to survive a rejected replace")
	}
}

func TestWatcherReloadsBundleOnWrite(t *testing.T) {
	dir := writeBundleDir(t, "edit", testBundleManifest)
	reg := NewRegistry()
	if err := LoadBundleDirs(reg, []string{dir}); err != nil {
		t.Fatalf("LoadBundleDirs: %v", err)
	}

	w := NewWatcher(reg, []string{dir}, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, bundleManifestName), []byte(testBundleManifestV2), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get("goto"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected watcher to reload the bundle and register goto within the deadline")
}
