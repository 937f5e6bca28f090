package tools

import (
	"testing"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

func TestCompileValidatorAcceptsValidArgs(t *testing.T) {
	spec := swe.ToolSpec{
		Name: "str_replace_editor",
		Args: []swe.ToolArg{
			{Name: "command", Type: swe.ArgEnum, Required: true, EnumValues: []string{"view", "edit"}},
			{Name: "path", Type: swe.ArgString, Required: true},
			{Name: "line", Type: swe.ArgInteger},
		},
	}
	v, err := CompileValidator(spec)
	if err != nil {
		t.Fatalf("CompileValidator: %v", err)
	}
	if err := v.Validate(map[string]any{"command": "view", "path": "/tmp/x"}); err != nil {
		t.Fatalf("expected valid args to pass, got %v", err)
	}
}

func TestCompileValidatorRejectsMissingRequired(t *testing.T) {
	spec := swe.ToolSpec{
		Name: "submit",
		Args: []swe.ToolArg{
			{Name: "patch", Type: swe.ArgString, Required: true},
		},
	}
	v, err := CompileValidator(spec)
	if err != nil {
		t.Fatalf("CompileValidator: %v", err)
	}
	if err := v.Validate(map[string]any{}); err == nil {
		t.Fatal("expected validation error for missing required arg")
	}
}

func TestCompileValidatorRejectsBadEnum(t *testing.T) {
	spec := swe.ToolSpec{
		Name: "str_replace_editor",
		Args: []swe.ToolArg{
			{Name: "command", Type: swe.ArgEnum, Required: true, EnumValues: []string{"view", "edit"}},
		},
	}
	v, err := CompileValidator(spec)
	if err != nil {
		t.Fatalf("CompileValidator: %v", err)
	}
	if err := v.Validate(map[string]any{"command": "delete"}); err == nil {
		t.Fatal("expected validation error for value outside enum")
	}
}
