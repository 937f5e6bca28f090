package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Load deep-merges a list of config files, in argument order, over the
// package defaults, applies dotted-path overrides (the "a.b.c=v" value of
// sweagent run's repeatable --set flag; a bare --a.b.c=v flag is not
// accepted) on top of the merge, and strict-decodes
// the result into a Config. Relative paths in files are resolved against
// CONFIG_ROOT when that env var is set.
func Load(files []string, overrides []string) (*Config, error) {
	merged, err := toRawMap(Default())
	if err != nil {
		return nil, &swe.ConfigError{Component: "config.Load", Reason: "encode defaults: " + err.Error()}
	}

	for _, path := range files {
		raw, err := loadFile(path)
		if err != nil {
			return nil, &swe.ConfigError{Component: "config.Load", Reason: fmt.Sprintf("%s: %v", path, err)}
		}
		merged = mergeMaps(merged, raw)
	}

	for _, override := range overrides {
		if err := applyOverride(merged, override); err != nil {
			return nil, &swe.ConfigError{Component: "config.Load", Reason: err.Error()}
		}
	}

	return decode(merged)
}

// loadFile resolves path against CONFIG_ROOT (if relative) and parses it as
// YAML or JSON5 based on extension.
func loadFile(path string) (map[string]any, error) {
	path = resolvePath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))
	return parseRawBytes([]byte(expanded), path)
}

func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	root := strings.TrimSpace(os.Getenv("CONFIG_ROOT"))
	if root == "" {
		return path
	}
	return filepath.Join(root, path)
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// mergeMaps deep-merges src into dst, recursing into nested maps and
// otherwise letting src win (later files/overrides take precedence).
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := toStringMap(value); ok {
			if existing, ok := toStringMap(dst[key]); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// toStringMap reports whether v is a map[string]any, the shape both JSON5
// and yaml.v3 decode nested objects into here, so mergeMaps can recurse. No
// other map type is converted.
func toStringMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// applyOverride sets a dotted path ("a.b.c") in raw to value's best-guess
// scalar type: YAML-decoding "true"/"42"/"3.14" to their typed forms, and
// falling back to a plain string otherwise.
func applyOverride(raw map[string]any, assignment string) error {
	eq := strings.IndexByte(assignment, '=')
	if eq < 0 {
		return fmt.Errorf("override %q must be of the form a.b.c=v", assignment)
	}
	path := strings.Split(assignment[:eq], ".")
	if len(path) == 0 || path[0] == "" {
		return fmt.Errorf("override %q has an empty key path", assignment)
	}
	value := scalarValue(assignment[eq+1:])

	cursor := raw
	for i, key := range path {
		if i == len(path)-1 {
			cursor[key] = value
			return nil
		}
		next, ok := toStringMap(cursor[key])
		if !ok {
			next = map[string]any{}
			cursor[key] = next
		}
		cursor = next
	}
	return nil
}

func scalarValue(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func toRawMap(cfg Config) (map[string]any, error) {
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// decode strict-decodes a merged raw map into a Config, rejecting unknown
// keys so a typo in a config file is a ConfigError instead of a silent
// no-op.
func decode(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, &swe.ConfigError{Component: "config.decode", Reason: "re-encode merged config: " + err.Error()}
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, &swe.ConfigError{Component: "config.decode", Reason: err.Error()}
	}
	return &cfg, nil
}
