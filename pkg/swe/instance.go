// Package swe holds the data model shared across SWE-agent-go's internal
// packages: Instance, ToolBundle, Turn, Trajectory, and SessionState. It
// exists as its own module-level package (mirroring pkg/models in the
// reference agent frameworks this project draws on) so that internal
// packages such as agentloop, trajectory, and model can all depend on the
// same types without import cycles.
package swe

// RepoSourceKind names the four ways an Instance's repository can be
// provided to EnvController.
type RepoSourceKind string

const (
	RepoSourceLocal  RepoSourceKind = "local"
	RepoSourceRemote RepoSourceKind = "remote"
	RepoSourceImage  RepoSourceKind = "image"
	RepoSourceNone   RepoSourceKind = "none"
)

// RepoSource describes where EnvController should materialize the
// instance's repository from.
type RepoSource struct {
	Kind RepoSourceKind `yaml:"kind" json:"kind"`

	// Path is used by RepoSourceLocal (host path to copy) and
	// RepoSourceImage (path already present inside the base image).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// URL and Commit are used by RepoSourceRemote.
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	Commit string `yaml:"commit,omitempty" json:"commit,omitempty"`
}

// EvaluationHooks names the tests an instance's fix is judged against.
// Populated optionally; this package's core never runs them itself (that is
// a downstream evaluation harness's job), it only threads the names through
// so a downstream harness can.
type EvaluationHooks struct {
	FailToPass []string `yaml:"fail_to_pass,omitempty" json:"fail_to_pass,omitempty"`
	PassToPass []string `yaml:"pass_to_pass,omitempty" json:"pass_to_pass,omitempty"`
}

// Instance is an immutable task descriptor. Once constructed it must not be
// mutated; AgentLoop and EnvController only ever read from it.
type Instance struct {
	ID                string          `yaml:"id" json:"id"`
	ProblemStatement  string          `yaml:"problem_statement" json:"problem_statement"`
	SupplementaryDirs []string        `yaml:"supplementary_dirs,omitempty" json:"supplementary_dirs,omitempty"`
	RepoSource        RepoSource      `yaml:"repo_source" json:"repo_source"`
	Image             string          `yaml:"image" json:"image"`
	Setup             string          `yaml:"setup,omitempty" json:"setup,omitempty"`
	Hooks             EvaluationHooks `yaml:"evaluation_hooks,omitempty" json:"evaluation_hooks,omitempty"`
}

// Validate checks the invariants an Instance must satisfy before it can be
// handed to an AgentLoop: a non-empty ID safe for use as a filesystem trajectory
// key, a problem statement, and a self-consistent RepoSource.
func (i Instance) Validate() error {
	if i.ID == "" {
		return &ConfigError{Component: "Instance", Reason: "id is required"}
	}
	if !isFilesystemSafe(i.ID) {
		return &ConfigError{Component: "Instance", Reason: "id must be filesystem-safe: " + i.ID}
	}
	if i.ProblemStatement == "" {
		return &ConfigError{Component: "Instance", Reason: "problem_statement is required for instance " + i.ID}
	}
	if i.Image == "" {
		return &ConfigError{Component: "Instance", Reason: "image is required for instance " + i.ID}
	}
	switch i.RepoSource.Kind {
	case RepoSourceLocal, RepoSourceImage:
		if i.RepoSource.Path == "" {
			return &ConfigError{Component: "Instance", Reason: "repo_source.path is required for kind " + string(i.RepoSource.Kind)}
		}
	case RepoSourceRemote:
		if i.RepoSource.URL == "" {
			return &ConfigError{Component: "Instance", Reason: "repo_source.url is required for kind remote"}
		}
	case RepoSourceNone:
		// nothing required
	default:
		return &ConfigError{Component: "Instance", Reason: "unknown repo_source.kind: " + string(i.RepoSource.Kind)}
	}
	return nil
}

func isFilesystemSafe(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return s != "." && s != ".."
}
