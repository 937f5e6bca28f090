package agentloop

import (
	"fmt"

	"github.com/sweagent-go/sweagent/internal/model"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// renderMessages converts a compacted turn view into the Messages a
// ModelClient.Query request carries. The system prompt turn is skipped here
// since it is sent separately as Request.System; every other role becomes a
// plain user/assistant message, the usual flattening providers do when they
// serialize tool results back as user-role content.
func renderMessages(turns []swe.Turn) []model.Message {
	msgs := make([]model.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case swe.RoleSystem:
			continue
		case swe.RoleUser:
			msgs = append(msgs, model.Message{Role: swe.RoleUser, Content: t.Thought})
		case swe.RoleAssistant:
			msgs = append(msgs, model.Message{
				Role:     swe.RoleAssistant,
				Content:  renderAssistantContent(t),
				ToolName: actionName(t.Action),
				ToolArgs: actionArgs(t.Action),
			})
		case swe.RoleToolObservation:
			content := ""
			if t.Observation != nil {
				content = string(t.Observation.Output)
			}
			msgs = append(msgs, model.Message{Role: swe.RoleUser, Content: content})
		case swe.RoleDemonstration:
			content := "[demonstration] " + t.Thought
			if t.Action != nil {
				content += "\n```\n" + t.Action.Raw + "\n```"
			}
			msgs = append(msgs, model.Message{Role: swe.RoleUser, Content: content})
		}
	}
	return msgs
}

func renderAssistantContent(t swe.Turn) string {
	if t.Action == nil {
		return t.Thought
	}
	return t.Thought + "\n```\n" + t.Action.Raw + "\n```"
}

func actionName(a *swe.Action) string {
	if a == nil {
		return ""
	}
	return a.Name
}

func actionArgs(a *swe.Action) map[string]any {
	if a == nil {
		return nil
	}
	return a.Args
}

// formatErrorTemplate renders the LM-facing message shown when ActionParser
// fails, precise enough about the failure kind that a capable model can
// self-correct on the next turn.
func formatErrorTemplate(err *swe.ParseError) string {
	switch err.Subtype {
	case swe.ParseEmpty:
		return "Your response did not contain an action. Wrap exactly one command in a single fenced code block."
	case swe.ParseUnknownTool:
		return fmt.Sprintf("Your action named a tool that does not exist: %s. Use one of the documented tools.", err.Message)
	case swe.ParseBadArgs:
		return fmt.Sprintf("Your action's arguments were invalid: %s. Check the tool's signature and try again.", err.Message)
	case swe.ParseBlocked:
		return fmt.Sprintf("That action is not permitted: %s.", err.Message)
	case swe.ParseMultiple:
		return fmt.Sprintf("Your response contained more than one action: %s. Respond with exactly one.", err.Message)
	default:
		return "Your response could not be parsed into an action: " + err.Message
	}
}
