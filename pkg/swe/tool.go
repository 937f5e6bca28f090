package swe

// ArgType enumerates the typed argument kinds a tool signature can declare.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgInteger ArgType = "integer"
	ArgBoolean ArgType = "boolean"
	ArgEnum    ArgType = "enum"
)

// ToolArg declares one argument of a tool's signature.
type ToolArg struct {
	Name        string   `yaml:"name" json:"name"`
	Type        ArgType  `yaml:"type" json:"type"`
	Required    bool     `yaml:"required" json:"required"`
	Description string   `yaml:"description" json:"description"`
	EnumValues  []string `yaml:"enum_values,omitempty" json:"enum_values,omitempty"`
}

// ToolSpec is the declarative, validated description of one tool: its
// signature, docstring, and argument list. It is the single source both the
// LM-facing documentation and the ActionParser grammar are generated from,
// keeping validation and schema derivation on the typed side rather than
// scattered across string parsing.
type ToolSpec struct {
	Name      string    `yaml:"name" json:"name"`
	Signature string    `yaml:"signature" json:"signature"`
	Docstring string    `yaml:"docstring" json:"docstring"`
	Args      []ToolArg `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	// Terminal marks a tool whose invocation ends the episode (submit, exit_*).
	Terminal bool `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	// Handler names the shell function (or script path) this spec's
	// bundle installs; empty for a Go-native tool registered directly.
	Handler string `yaml:"handler,omitempty" json:"handler,omitempty"`
}

// BundleEnvVar is a default environment variable a bundle seeds into the
// persisted env store at install time.
type BundleEnvVar struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// ToolBundle is a named group of related tools with shared install steps
// and default environment variables.
type ToolBundle struct {
	Name         string         `yaml:"name" json:"name"`
	Tools        []ToolSpec     `yaml:"tools" json:"tools"`
	InstallSteps []string       `yaml:"install_steps,omitempty" json:"install_steps,omitempty"`
	EnvVars      []BundleEnvVar `yaml:"env_vars,omitempty" json:"env_vars,omitempty"`
	// RCFile is the shell file sourced on every new SessionShell to define
	// this bundle's functions, e.g. "bash.rc".
	RCFile string `yaml:"rc_file,omitempty" json:"rc_file,omitempty"`
}

// SessionState is the observable state inside the sandbox tracked by
// AgentLoop between turns.
type SessionState struct {
	Cwd        string            `json:"cwd"`
	OpenFile   string            `json:"open_file,omitempty"`
	CursorLine int               `json:"cursor_line,omitempty"`
	EnvSnapshot map[string]string `json:"env_snapshot,omitempty"`
}
