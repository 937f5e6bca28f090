package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// JSONSchema renders a tool's argument list as a JSON Schema object,
// suitable for a function-call-style LM request. It is derived from the
// same swe.ToolSpec the shell-function docs come from, keeping both in sync
// with a single source.
func JSONSchema(spec swe.ToolSpec) map[string]any {
	props := make(map[string]any, len(spec.Args))
	var required []string
	for _, a := range spec.Args {
		prop := map[string]any{"description": a.Description}
		switch a.Type {
		case swe.ArgString:
			prop["type"] = "string"
		case swe.ArgInteger:
			prop["type"] = "integer"
		case swe.ArgBoolean:
			prop["type"] = "boolean"
		case swe.ArgEnum:
			prop["type"] = "string"
			prop["enum"] = a.EnumValues
		}
		props[a.Name] = prop
		if a.Required {
			required = append(required, a.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// compiledValidator wraps a jsonschema.Schema compiled from a ToolSpec's
// JSONSchema, used by ActionParser to validate function-call-style
// arguments before dispatch.
type compiledValidator struct {
	schema *jsonschema.Schema
}

// CompileValidator compiles the JSON Schema for a tool spec so its
// arguments can be validated ahead of execution.
func CompileValidator(spec swe.ToolSpec) (*compiledValidator, error) {
	raw, err := json.Marshal(JSONSchema(spec))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", spec.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://" + spec.Name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", spec.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", spec.Name, err)
	}
	return &compiledValidator{schema: schema}, nil
}

// Validate checks a decoded argument map against the compiled schema.
func (v *compiledValidator) Validate(args map[string]any) error {
	return v.schema.Validate(args)
}
