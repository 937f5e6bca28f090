// Package tools turns a set of declarative ToolBundles into a validated
// catalogue: the install protocol that makes each tool's shell function
// callable inside a SessionShell, the LM-facing documentation block, and the
// ActionParser grammar. Both the docs and the grammar are generated from the
// same ToolSpec — there is no runtime reflection over shell docstring
// comments.
package tools

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// ParseBundle decodes one bundle's YAML manifest (bundle.yaml in the
// tools.d/<bundle>/ convention) into a swe.ToolBundle, rejecting unknown
// fields, and validates each declared tool's name, docstring, argument
// names, types and enum values.
func ParseBundle(name string, manifest []byte) (*swe.ToolBundle, error) {
	var bundle swe.ToolBundle
	dec := yaml.NewDecoder(strings.NewReader(string(manifest)))
	dec.KnownFields(true)
	if err := dec.Decode(&bundle); err != nil {
		return nil, &swe.ConfigError{Component: "ToolBundle:" + name, Reason: "manifest decode: " + err.Error()}
	}
	if bundle.Name == "" {
		bundle.Name = name
	}
	if len(bundle.Tools) == 0 {
		return nil, &swe.ConfigError{Component: "ToolBundle:" + bundle.Name, Reason: "bundle declares no tools"}
	}
	for i := range bundle.Tools {
		if err := validateToolSpec(&bundle.Tools[i]); err != nil {
			return nil, &swe.ConfigError{Component: "ToolBundle:" + bundle.Name, Reason: err.Error()}
		}
	}
	return &bundle, nil
}

func validateToolSpec(spec *swe.ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool declared with empty name")
	}
	if spec.Docstring == "" {
		return fmt.Errorf("tool %s has no docstring", spec.Name)
	}
	seen := make(map[string]bool, len(spec.Args))
	for _, a := range spec.Args {
		if a.Name == "" {
			return fmt.Errorf("tool %s declares an argument with no name", spec.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("tool %s declares duplicate argument %s", spec.Name, a.Name)
		}
		seen[a.Name] = true
		switch a.Type {
		case swe.ArgString, swe.ArgInteger, swe.ArgBoolean, swe.ArgEnum:
		default:
			return fmt.Errorf("tool %s argument %s has unknown type %q", spec.Name, a.Name, a.Type)
		}
		if a.Type == swe.ArgEnum && len(a.EnumValues) == 0 {
			return fmt.Errorf("tool %s argument %s is type enum but declares no enum_values", spec.Name, a.Name)
		}
	}
	if spec.Signature == "" {
		spec.Signature = deriveSignature(spec)
	}
	return nil
}

// deriveSignature builds a canonical "name arg1 arg2 ..." signature string
// from the declared argument list when a bundle author didn't write one
// explicitly.
func deriveSignature(spec *swe.ToolSpec) string {
	var sb strings.Builder
	sb.WriteString(spec.Name)
	for _, a := range spec.Args {
		sb.WriteString(" ")
		if a.Required {
			sb.WriteString(a.Name)
		} else {
			sb.WriteString("[" + a.Name + "]")
		}
	}
	return sb.String()
}
