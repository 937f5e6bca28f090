// Package parser turns one raw LM completion into exactly one swe.Action.
// It supports two action formats: a thought/action fenced-block format
// modeled on shell-style tool conventions, and a function-call-style format
// for providers that return structured tool_use blocks directly. Both
// formats share the same ParseErrorSubtype taxonomy so AgentLoop can react
// uniformly.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sweagent-go/sweagent/internal/tools"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// codeBlockPattern matches a fenced code block, capturing its body. Only
// triple-backtick fences are recognised (an optional language tag may follow
// the opening fence); ~~~ fences are not matched. Go's regexp has no
// backreferences, so the opening and closing fences are not paired by length.
var codeBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\n?(.*?)\\n?```")

// Config controls ActionParser leniency.
type Config struct {
	// LastCodeBlockWins, when true, uses the final fenced code block in a
	// reply that contains more than one instead of failing with
	// ParseMultiple. Some models wrap their reasoning in an
	// illustrative code block before emitting the real action; this lets an
	// operator opt into recovering from that pattern instead of treating it
	// as a hard parse failure.
	LastCodeBlockWins bool

	// BlockedCommands lists command names ActionParser refuses to dispatch,
	// checked case-insensitively against both the parsed tool/function name
	// and the first word of the raw command text. nil uses
	// DefaultBlockedCommands; pass a non-nil empty slice to disable
	// name-based blocking entirely.
	BlockedCommands []string

	// BlockedPatterns are regexes matched against the full raw command
	// text, for content-based blocks a bare command name can't capture —
	// reading a credential file through an otherwise unremarkable tool.
	// nil uses DefaultBlockedPatterns.
	BlockedPatterns []*regexp.Regexp
}

// DefaultBlockedCommands refuses anything that hands control to another
// identity or shell: the exact hazard the original SWE-agent's blocklist
// calls out "su" for.
var DefaultBlockedCommands = []string{"su", "sudo", "doas", "login", "passwd"}

// DefaultBlockedPatterns flags command text that reads well-known
// credential material directly, regardless of which tool wraps it.
var DefaultBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.ssh/id_[a-z0-9]+`),
	regexp.MustCompile(`\.aws/credentials`),
	regexp.MustCompile(`/etc/shadow`),
	regexp.MustCompile(`\.netrc\b`),
}

func (c *Config) sanitize() {
	if c.BlockedCommands == nil {
		c.BlockedCommands = DefaultBlockedCommands
	}
	if c.BlockedPatterns == nil {
		c.BlockedPatterns = DefaultBlockedPatterns
	}
}

// Parser extracts a single Action from LM output text.
type Parser struct {
	cfg      Config
	registry *tools.Registry
}

// New creates a Parser bound to a tool registry, used to reject unknown
// tool names and validate declared argument types.
func New(registry *tools.Registry, cfg Config) *Parser {
	cfg.sanitize()
	return &Parser{cfg: cfg, registry: registry}
}

// checkBlocked returns a ParseError with subtype Blocked when name (the
// parsed tool/function identifier) or raw (the full command text) matches
// the configured blocklist. Checked ahead of tool-name resolution so a
// blocked command is never allowed to resolve to ParseUnknownTool instead.
func (p *Parser) checkBlocked(name, raw string) *swe.ParseError {
	head := name
	if fields := strings.Fields(raw); len(fields) > 0 {
		head = fields[0]
	}
	for _, blocked := range p.cfg.BlockedCommands {
		if strings.EqualFold(name, blocked) || strings.EqualFold(head, blocked) {
			return &swe.ParseError{Subtype: swe.ParseBlocked, Message: fmt.Sprintf("command %q is blocked", blocked)}
		}
	}
	for _, pattern := range p.cfg.BlockedPatterns {
		if pattern.MatchString(raw) {
			return &swe.ParseError{Subtype: swe.ParseBlocked, Message: fmt.Sprintf("command text matches blocked pattern %q", pattern.String())}
		}
	}
	return nil
}

// Parse extracts the thought (everything before the action block) and the
// single Action from raw completion text.
func (p *Parser) Parse(raw string) (thought string, action *swe.Action, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil, &swe.ParseError{Subtype: swe.ParseEmpty, Message: "completion was empty"}
	}

	matches := codeBlockPattern.FindAllStringSubmatchIndex(trimmed, -1)
	if len(matches) == 0 {
		return "", nil, &swe.ParseError{Subtype: swe.ParseEmpty, Message: "no action block found"}
	}
	if len(matches) > 1 && !p.cfg.LastCodeBlockWins {
		return "", nil, &swe.ParseError{Subtype: swe.ParseMultiple, Message: fmt.Sprintf("found %d action blocks, expected exactly one", len(matches))}
	}

	chosen := matches[len(matches)-1]
	thought = strings.TrimSpace(trimmed[:chosen[0]])
	body := strings.TrimSpace(trimmed[chosen[2]:chosen[3]])

	action, err = p.parseCommandLine(body)
	if err != nil {
		return "", nil, err
	}
	return thought, action, nil
}

// parseCommandLine parses the action block body as a single shell-style
// invocation, "tool_name arg1 arg2 ...", binding words positionally to the
// registered ToolSpec's declared arguments. Long options are not recognised:
// a "--flag" word is bound like any other positional value.
func (p *Parser) parseCommandLine(body string) (*swe.Action, error) {
	if body == "" {
		return nil, &swe.ParseError{Subtype: swe.ParseEmpty, Message: "action block was empty"}
	}
	lines := strings.Split(body, "\n")
	head := strings.TrimSpace(lines[0])
	if head == "" {
		return nil, &swe.ParseError{Subtype: swe.ParseEmpty, Message: "action block was empty"}
	}

	fields := splitFields(head)
	name := fields[0]
	if blockErr := p.checkBlocked(name, body); blockErr != nil {
		return nil, blockErr
	}
	spec, ok := p.registry.Get(name)
	if !ok {
		if _, ok := p.registry.Native(name); !ok {
			return nil, &swe.ParseError{Subtype: swe.ParseUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}
		}
		spec, _ = p.registry.Get(name)
	}

	args, err := bindPositional(spec, fields[1:], strings.Join(lines[1:], "\n"))
	if err != nil {
		return nil, &swe.ParseError{Subtype: swe.ParseBadArgs, Message: err.Error()}
	}

	return &swe.Action{Name: name, Args: args, Raw: body}, nil
}

// bindPositional maps positional words onto a ToolSpec's declared argument
// order. A multi-line block (e.g. edit's replacement text) is bound to the
// final string argument, following the original SWE-agent's convention that
// the last argument of a multi-line tool absorbs the remaining body.
func bindPositional(spec swe.ToolSpec, words []string, rest string) (map[string]any, error) {
	args := make(map[string]any, len(spec.Args))
	for i, a := range spec.Args {
		last := i == len(spec.Args)-1
		if last && rest != "" && a.Type == swe.ArgString {
			if i < len(words) {
				args[a.Name] = strings.Join(words[i:], " ") + "\n" + rest
			} else {
				args[a.Name] = rest
			}
			continue
		}
		if i >= len(words) {
			if a.Required {
				return nil, fmt.Errorf("missing required argument %q", a.Name)
			}
			continue
		}
		v, err := convert(a, words[i])
		if err != nil {
			return nil, err
		}
		args[a.Name] = v
	}
	return args, nil
}

func convert(a swe.ToolArg, word string) (any, error) {
	switch a.Type {
	case swe.ArgInteger:
		var n int
		if _, err := fmt.Sscanf(word, "%d", &n); err != nil {
			return nil, fmt.Errorf("argument %q expects an integer, got %q", a.Name, word)
		}
		return n, nil
	case swe.ArgBoolean:
		switch word {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		default:
			return nil, fmt.Errorf("argument %q expects a boolean, got %q", a.Name, word)
		}
	case swe.ArgEnum:
		for _, v := range a.EnumValues {
			if v == word {
				return word, nil
			}
		}
		return nil, fmt.Errorf("argument %q must be one of %v, got %q", a.Name, a.EnumValues, word)
	default:
		return word, nil
	}
}

func splitFields(s string) []string {
	return strings.Fields(s)
}

// ParseFunctionCall parses a provider's structured tool_use payload directly,
// used when the underlying ModelClient already separated the tool name and
// arguments instead of emitting a fenced action block. argsJSON is validated
// against the tool's generated JSON Schema before being decoded.
func (p *Parser) ParseFunctionCall(name string, argsJSON json.RawMessage) (*swe.Action, error) {
	if blockErr := p.checkBlocked(name, string(argsJSON)); blockErr != nil {
		return nil, blockErr
	}
	spec, ok := p.registry.Get(name)
	if !ok {
		return nil, &swe.ParseError{Subtype: swe.ParseUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}
	}

	var args map[string]any
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, &swe.ParseError{Subtype: swe.ParseBadArgs, Message: fmt.Sprintf("invalid argument JSON: %v", err)}
		}
	}

	validator, err := tools.CompileValidator(spec)
	if err != nil {
		return nil, fmt.Errorf("compile validator for %s: %w", name, err)
	}
	if err := validator.Validate(args); err != nil {
		return nil, &swe.ParseError{Subtype: swe.ParseBadArgs, Message: err.Error()}
	}

	return &swe.Action{Name: name, Args: args, Raw: string(argsJSON)}, nil
}
