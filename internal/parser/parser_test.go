package parser

import (
	"errors"
	"testing"

	"github.com/sweagent-go/sweagent/internal/tools"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	bundle := &swe.ToolBundle{
		Name: "edit",
		Tools: []swe.ToolSpec{
			{
				Name:      "submit",
				Docstring: "submits the final patch",
				Terminal:  true,
			},
			{
				Name:      "goto",
				Docstring: "moves the editor window to a line",
				Args: []swe.ToolArg{
					{Name: "line_number", Type: swe.ArgInteger, Required: true, Description: "line"},
				},
			},
			{
				Name:      "edit",
				Docstring: "replaces a range of lines",
				Args: []swe.ToolArg{
					{Name: "start_line", Type: swe.ArgInteger, Required: true, Description: "start"},
					{Name: "end_line", Type: swe.ArgInteger, Required: true, Description: "end"},
					{Name: "replacement_text", Type: swe.ArgString, Required: true, Description: "text"},
				},
			},
		},
	}
	if err := reg.LoadBundle(bundle); err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	return reg
}

func TestParseSingleAction(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	raw := "I will submit now.\n```\nsubmit\n```"
	thought, action, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if thought != "I will submit now." {
		t.Fatalf("unexpected thought: %q", thought)
	}
	if action.Name != "submit" {
		t.Fatalf("unexpected action name: %q", action.Name)
	}
}

func TestParseEmptyCompletion(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	_, _, err := p.Parse("   ")
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseEmpty {
		t.Fatalf("expected ParseEmpty, got %v", err)
	}
}

func TestParseMultipleBlocksRejectedByDefault(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	raw := "```\nsubmit\n```\nthen\n```\ngoto 4\n```"
	_, _, err := p.Parse(raw)
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseMultiple {
		t.Fatalf("expected ParseMultiple, got %v", err)
	}
}

func TestParseMultipleBlocksLastWinsWhenLenient(t *testing.T) {
	p := New(newTestRegistry(t), Config{LastCodeBlockWins: true})
	raw := "```\nsubmit\n```\nthen\n```\ngoto 4\n```"
	_, action, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if action.Name != "goto" {
		t.Fatalf("expected last block to win, got %q", action.Name)
	}
}

func TestParseUnknownTool(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	_, _, err := p.Parse("```\nfrobnicate\n```")
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseUnknownTool {
		t.Fatalf("expected ParseUnknownTool, got %v", err)
	}
}

func TestParseMissingRequiredArg(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	_, _, err := p.Parse("```\ngoto\n```")
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseBadArgs {
		t.Fatalf("expected ParseBadArgs, got %v", err)
	}
}

func TestParseMultilineReplacementText(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	raw := "```\nedit 3 5\nfoo\nbar\n```"
	_, action, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if action.Args["start_line"] != 3 || action.Args["end_line"] != 5 {
		t.Fatalf("unexpected line args: %#v", action.Args)
	}
	if action.Args["replacement_text"] != "foo\nbar" {
		t.Fatalf("unexpected replacement text: %q", action.Args["replacement_text"])
	}
}

func TestParseFunctionCall(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	action, err := p.ParseFunctionCall("goto", []byte(`{"line_number": 42}`))
	if err != nil {
		t.Fatalf("ParseFunctionCall: %v", err)
	}
	if action.Args["line_number"] != float64(42) {
		t.Fatalf("unexpected args: %#v", action.Args)
	}
}

func TestParseFunctionCallUnknownTool(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	_, err := p.ParseFunctionCall("nope", nil)
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseUnknownTool {
		t.Fatalf("expected ParseUnknownTool, got %v", err)
	}
}

func TestParseBlocksDefaultCommandByName(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	_, _, err := p.Parse("```\nsu root\n```")
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseBlocked {
		t.Fatalf("expected ParseBlocked, got %v", err)
	}
}

func TestParseBlockedTakesPriorityOverUnknownTool(t *testing.T) {
	// "sudo" is not a registered tool in newTestRegistry; the blocklist check
	// must fire before tool resolution would otherwise report UnknownTool.
	p := New(newTestRegistry(t), Config{})
	_, _, err := p.Parse("```\nsudo reboot\n```")
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseBlocked {
		t.Fatalf("expected ParseBlocked, got %v", err)
	}
}

func TestParseBlocksCredentialPathPattern(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	raw := "```\nedit 1 1\ncat ~/.ssh/id_rsa\n```"
	_, _, err := p.Parse(raw)
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseBlocked {
		t.Fatalf("expected ParseBlocked, got %v", err)
	}
}

func TestParseCustomBlocklistOverridesDefault(t *testing.T) {
	p := New(newTestRegistry(t), Config{BlockedCommands: []string{}})
	_, action, err := p.Parse("```\nsubmit\n```")
	if err != nil {
		t.Fatalf("expected an empty BlockedCommands slice to disable name blocking, got: %v", err)
	}
	if action.Name != "submit" {
		t.Fatalf("unexpected action: %#v", action)
	}
}

func TestParseFunctionCallBlocksByName(t *testing.T) {
	p := New(newTestRegistry(t), Config{})
	_, err := p.ParseFunctionCall("sudo", nil)
	var pe *swe.ParseError
	if !errors.As(err, &pe) || pe.Subtype != swe.ParseBlocked {
		t.Fatalf("expected ParseBlocked, got %v", err)
	}
}
