// Package config loads the sweagent binary's YAML configuration: one
// Config struct assembled by deep-merging repeatable --config files and
// applying final `--set a.b.c=v` dotted-path overrides (a bare --a.b.c=v
// flag is not accepted), split between a typed
// Config (this file) and a loader (loader.go) that handles merge
// semantics.
package config

import "time"

// Config is the root of the sweagent binary's configuration, decoded with
// strict unknown-field rejection so a typo in a config file surfaces as a
// ConfigError at startup instead of silently doing nothing.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Loop       LoopConfig       `yaml:"loop"`
	Trajectory TrajectoryConfig `yaml:"trajectory"`
	Batch      BatchConfig      `yaml:"batch"`
	Tools      ToolsConfig      `yaml:"tools"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProviderConfig selects and configures the ModelClient adapter.
type ProviderConfig struct {
	// Name is one of "anthropic", "openai", "bedrock", "gemini".
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	// Region, AccessKeyID, SecretAccessKey, and SessionToken are only
	// meaningful for Name: "bedrock". AccessKeyID/SecretAccessKey are
	// optional; when absent the Bedrock client falls back to the default
	// AWS credential chain.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	// MaxRetries overrides model.RetryConfig's attempt count on
	// ProviderTransientError; 0 keeps the package default. Set only through
	// config files or --set; no environment variable is read for it.
	MaxRetries int `yaml:"max_retries"`
}

// SandboxConfig configures EnvController.
type SandboxConfig struct {
	BundlesRoot         string `yaml:"bundles_root"`
	DisableCache        bool   `yaml:"disable_cache"`
	SetupTimeoutSeconds int    `yaml:"setup_timeout_seconds"`
}

func (c SandboxConfig) SetupTimeout() time.Duration {
	return time.Duration(c.SetupTimeoutSeconds) * time.Second
}

// LoopConfig configures AgentLoop.
type LoopConfig struct {
	CostLimit                float64  `yaml:"cost_limit"`
	RetryCap                 int      `yaml:"retry_cap"`
	MaxTokens                int      `yaml:"max_tokens"`
	DefaultTimeoutSeconds    int      `yaml:"default_timeout_seconds"`
	LongTimeoutSeconds       int      `yaml:"long_timeout_seconds"`
	NoOutputTimeoutSeconds   int      `yaml:"no_output_timeout_seconds"`
	LongRunningTools         []string `yaml:"long_running_tools"`
	LastCodeBlockWinsLenient bool     `yaml:"last_code_block_wins"`
	BlockedCommands          []string `yaml:"blocked_commands"`
}

func (c LoopConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

func (c LoopConfig) LongTimeout() time.Duration {
	return time.Duration(c.LongTimeoutSeconds) * time.Second
}

func (c LoopConfig) NoOutputTimeout() time.Duration {
	return time.Duration(c.NoOutputTimeoutSeconds) * time.Second
}

// TrajectoryConfig configures TrajectoryWriter, including the optional S3
// mirror.
type TrajectoryConfig struct {
	OutputRoot string `yaml:"output_root"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
}

// BatchConfig configures BatchRunner, including its optional resume index.
type BatchConfig struct {
	Workers int         `yaml:"workers"`
	Redo    bool        `yaml:"redo"`
	Shuffle bool        `yaml:"shuffle"`
	Seed    int64       `yaml:"seed"`
	Index   IndexConfig `yaml:"index"`
}

// IndexConfig selects BatchRunner's resume index backend.
type IndexConfig struct {
	// Driver is "", "sqlite", or "postgres". "" disables the index and
	// falls back to a trajectory-directory scan.
	Driver string `yaml:"driver"`
	// DSN is the sqlite file path or Postgres connection string.
	DSN string `yaml:"dsn"`
}

// ToolsConfig configures ToolRegistry bundle discovery.
type ToolsConfig struct {
	// BundleDirs are tools.d/<bundle>/ directories loaded at startup.
	BundleDirs []string `yaml:"bundle_dirs"`
	// Watch enables fsnotify-based hot reload of BundleDirs during local
	// bundle development (`tools.watch: true`, or `--set tools.watch=true`).
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures the slog handler. Levels are set only through
// config files or --set; no LOG_* environment variable is read.
type LoggingConfig struct {
	StreamLevel string `yaml:"stream_level"`
	FileLevel   string `yaml:"file_level"`
	FilePath    string `yaml:"file_path"`
}

// Default returns a Config with the same fallback values each component's
// own sanitize() applies, so a config file only needs to name what it wants
// to override.
func Default() Config {
	return Config{
		Sandbox: SandboxConfig{SetupTimeoutSeconds: 1200},
		Loop: LoopConfig{
			RetryCap:               2,
			DefaultTimeoutSeconds:  30,
			LongTimeoutSeconds:     600,
			NoOutputTimeoutSeconds: 120,
		},
		Batch: BatchConfig{Workers: 1},
		Logging: LoggingConfig{
			StreamLevel: "info",
			FileLevel:   "debug",
		},
	}
}
