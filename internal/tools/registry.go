package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Installer installs bundle files and runs install steps inside a sandbox.
// EnvController supplies a concrete implementation backed by SessionShell;
// ToolRegistry depends only on this narrow interface so it stays testable
// without a real shell, with every dependency passed to the constructor
// rather than held in a module-level singleton.
type Installer interface {
	// CopyBundle copies the bundle's files to a stable path inside the
	// sandbox and returns that path.
	CopyBundle(ctx context.Context, bundle *swe.ToolBundle) (path string, err error)
	// RunInstallStep executes one install step once per environment.
	RunInstallStep(ctx context.Context, bundlePath, step string) error
	// AppendRC appends a source line for rcFile to the shell's rc so every
	// new session defines the bundle's functions.
	AppendRC(ctx context.Context, rcFile string) error
	// SeedEnvVar persists a bundle-declared environment variable.
	SeedEnvVar(ctx context.Context, name, value string) error
}

// Registry holds the validated catalogue of tools assembled from every
// loaded bundle, plus any Go-native tools added through RegisterNative.
type Registry struct {
	mu      sync.RWMutex
	bundles []*swe.ToolBundle
	specs   map[string]swe.ToolSpec
	native  map[string]NativeTool
}

// NativeTool is a tool implemented in Go rather than as a shell function.
type NativeTool interface {
	Spec() swe.ToolSpec
	Execute(ctx context.Context, args map[string]any) (output string, exitCode int, err error)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:  make(map[string]swe.ToolSpec),
		native: make(map[string]NativeTool),
	}
}

// LoadBundle validates and adds a bundle's tools to the registry. Duplicate
// tool names across bundles are a ConfigError.
func (r *Registry) LoadBundle(bundle *swe.ToolBundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range bundle.Tools {
		if _, exists := r.specs[spec.Name]; exists {
			return &swe.ConfigError{Component: "ToolRegistry", Reason: "duplicate tool name: " + spec.Name}
		}
		if _, exists := r.native[spec.Name]; exists {
			return &swe.ConfigError{Component: "ToolRegistry", Reason: "duplicate tool name: " + spec.Name}
		}
	}
	for _, spec := range bundle.Tools {
		r.specs[spec.Name] = spec
	}
	r.bundles = append(r.bundles, bundle)
	return nil
}

// ReplaceBundle atomically swaps out any previously loaded bundle with the
// same name for newBundle, used by the directory watcher to hot-reload a
// bundle without tripping LoadBundle's duplicate-tool-name guard against its
// own prior version.
func (r *Registry) ReplaceBundle(newBundle *swe.ToolBundle) error {
	r.mu.Lock()
	old := make(map[string]bool)
	for _, b := range r.bundles {
		if b.Name == newBundle.Name {
			for _, spec := range b.Tools {
				old[spec.Name] = true
			}
		}
	}
	for _, spec := range newBundle.Tools {
		if _, exists := r.specs[spec.Name]; exists && !old[spec.Name] {
			r.mu.Unlock()
			return &swe.ConfigError{Component: "ToolRegistry", Reason: "duplicate tool name: " + spec.Name}
		}
	}
	kept := r.bundles[:0:0]
	for _, b := range r.bundles {
		if b.Name == newBundle.Name {
			for _, spec := range b.Tools {
				delete(r.specs, spec.Name)
			}
			continue
		}
		kept = append(kept, b)
	}
	r.bundles = kept
	for _, spec := range newBundle.Tools {
		if _, exists := r.specs[spec.Name]; exists {
			r.mu.Unlock()
			return &swe.ConfigError{Component: "ToolRegistry", Reason: "duplicate tool name: " + spec.Name}
		}
		if _, exists := r.native[spec.Name]; exists {
			r.mu.Unlock()
			return &swe.ConfigError{Component: "ToolRegistry", Reason: "duplicate tool name: " + spec.Name}
		}
	}
	for _, spec := range newBundle.Tools {
		r.specs[spec.Name] = spec
	}
	r.bundles = append(r.bundles, newBundle)
	r.mu.Unlock()
	return nil
}

// RegisterNative adds a Go-native tool directly to the registry.
func (r *Registry) RegisterNative(tool NativeTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec := tool.Spec()
	if _, exists := r.specs[spec.Name]; exists {
		return &swe.ConfigError{Component: "ToolRegistry", Reason: "duplicate tool name: " + spec.Name}
	}
	if _, exists := r.native[spec.Name]; exists {
		return &swe.ConfigError{Component: "ToolRegistry", Reason: "duplicate tool name: " + spec.Name}
	}
	r.specs[spec.Name] = spec
	r.native[spec.Name] = tool
	return nil
}

// Get returns a tool's spec by name.
func (r *Registry) Get(name string) (swe.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Native returns the native implementation for name, if it is a Go-native tool.
func (r *Registry) Native(name string) (NativeTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.native[name]
	return t, ok
}

// IsTerminal reports whether invoking the named tool ends the episode.
func (r *Registry) IsTerminal(name string) bool {
	spec, ok := r.Get(name)
	return ok && spec.Terminal
}

// HasTerminalTool reports whether at least one terminal tool is registered.
func (r *Registry) HasTerminalTool() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, spec := range r.specs {
		if spec.Terminal {
			return true
		}
	}
	return false
}

// Specs returns every registered tool spec, sorted by name for deterministic
// documentation generation.
func (r *Registry) Specs() []swe.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]swe.ToolSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Install runs the install protocol for every loaded bundle, in load order,
// against the given Installer.
func (r *Registry) Install(ctx context.Context, inst Installer) error {
	r.mu.RLock()
	bundles := append([]*swe.ToolBundle(nil), r.bundles...)
	r.mu.RUnlock()

	for _, bundle := range bundles {
		path, err := inst.CopyBundle(ctx, bundle)
		if err != nil {
			return fmt.Errorf("copy bundle %s: %w", bundle.Name, err)
		}
		for _, step := range bundle.InstallSteps {
			if err := inst.RunInstallStep(ctx, path, step); err != nil {
				return &bootstrapError{bundle: bundle.Name, cause: err}
			}
		}
		if bundle.RCFile != "" {
			if err := inst.AppendRC(ctx, path+"/"+bundle.RCFile); err != nil {
				return fmt.Errorf("append rc for bundle %s: %w", bundle.Name, err)
			}
		}
		for _, ev := range bundle.EnvVars {
			if err := inst.SeedEnvVar(ctx, ev.Name, ev.Value); err != nil {
				return fmt.Errorf("seed env var %s for bundle %s: %w", ev.Name, bundle.Name, err)
			}
		}
	}
	return nil
}

// bootstrapError reports an install step that failed with a nonzero exit,
// carrying the offending bundle name.
type bootstrapError struct {
	bundle string
	cause  error
}

func (e *bootstrapError) Error() string {
	return fmt.Sprintf("bundle %s install step failed: %v", e.bundle, e.cause)
}

func (e *bootstrapError) Unwrap() error { return e.cause }

// Docs renders the LM-facing documentation block: one section per tool,
// signature plus docstring, generated straight from the typed ToolSpec
// catalogue rather than re-parsed from shell comments.
func (r *Registry) Docs() string {
	var sb strings.Builder
	for _, spec := range r.Specs() {
		sb.WriteString(spec.Signature)
		sb.WriteString("\n")
		sb.WriteString(indent(spec.Docstring))
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
