// Package instance loads swe.Instance task descriptors from disk: a single
// instance file, or a batch manifest listing many, in YAML or JSON. It also
// exposes the instance file's JSON Schema for `sweagent inspector --schema`,
// so an operator authoring instance files by hand gets the same shape the
// loader enforces.
package instance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Load reads path and returns every Instance it declares. The file may hold
// a single instance object, a bare list of instances, or a {"instances":
// [...]} manifest; format (YAML, JSON, or JSON5) is chosen by extension.
func Load(path string) ([]swe.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instance file %s: %w", path, err)
	}

	raw, err := decodeAny(data, path)
	if err != nil {
		return nil, fmt.Errorf("parse instance file %s: %w", path, err)
	}

	instances, err := coerce(raw)
	if err != nil {
		return nil, fmt.Errorf("instance file %s: %w", path, err)
	}
	for i := range instances {
		if err := instances[i].Validate(); err != nil {
			return nil, fmt.Errorf("instance file %s, entry %d: %w", path, i, err)
		}
	}
	return instances, nil
}

// LoadDir loads every instance file (*.yaml, *.yml, *.json, *.json5) in dir,
// in lexical filename order, concatenating their instances. Used by
// run-batch when pointed at a directory of one-instance-per-file tasks
// instead of a single manifest.
func LoadDir(dir string) ([]swe.Instance, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read instance dir %s: %w", dir, err)
	}
	var out []swe.Instance
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json", ".json5":
		default:
			continue
		}
		instances, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, instances...)
	}
	return out, nil
}

func decodeAny(data []byte, pathHint string) (any, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		var raw any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("file is empty")
		}
		return nil, err
	}
	return raw, nil
}

// coerce normalizes the three accepted shapes (single instance, bare list,
// {"instances": [...]}) into a slice, round-tripping through JSON so the
// same decode-into-swe.Instance path is used regardless of source format.
func coerce(raw any) ([]swe.Instance, error) {
	switch v := raw.(type) {
	case []any:
		return decodeInstanceList(v)
	case map[string]any:
		if list, ok := v["instances"]; ok {
			listSlice, ok := list.([]any)
			if !ok {
				return nil, fmt.Errorf("\"instances\" key must be a list")
			}
			return decodeInstanceList(listSlice)
		}
		return decodeInstanceList([]any{v})
	default:
		return nil, fmt.Errorf("unrecognized instance file shape (expected an object or a list)")
	}
}

func decodeInstanceList(raw []any) ([]swe.Instance, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode instance list: %w", err)
	}
	var instances []swe.Instance
	if err := json.Unmarshal(payload, &instances); err != nil {
		return nil, fmt.Errorf("decode instance list: %w", err)
	}
	return instances, nil
}

// Schema renders the JSON Schema an instance file's entries must satisfy,
// reflected from swe.Instance, for `sweagent inspector --schema`.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&swe.Instance{})
	return json.MarshalIndent(schema, "", "  ")
}
