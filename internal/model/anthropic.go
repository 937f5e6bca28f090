package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// anthropicPricing holds per-million-token USD pricing, keyed by model ID
// prefix, used to compute Response.Cost without a separate billing call.
var anthropicPricing = map[string][2]float64{
	"claude-opus":   {15.00, 75.00},
	"claude-sonnet": {3.00, 15.00},
	"claude-haiku":  {0.80, 4.00},
}

// AnthropicConfig configures an Anthropic-backed ModelClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Anthropic is a ModelClient backed by api.anthropic.com.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropic creates an Anthropic-backed ModelClient.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, &swe.ConfigError{Component: "model.Anthropic", Reason: "API key is required"}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Anthropic{client: anthropic.NewClient(opts...), defaultModel: model}, nil
}

func (a *Anthropic) Query(ctx context.Context, req Request) (*Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == swe.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	for _, t := range req.Tools {
		raw, err := json.Marshal(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for tool %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("convert schema for tool %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && isRetryableStatus(apiErr.StatusCode) {
			return nil, &swe.ProviderTransientError{Cause: err}
		}
		return nil, fmt.Errorf("anthropic query: %w", err)
	}

	resp := &Response{
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(variant.Input, &args)
			resp.ToolCall = &ToolCall{Name: variant.Name, Args: args}
		}
	}
	resp.Cost = estimateCost(anthropicPricing, modelID, resp.Usage)
	return resp, nil
}

func isRetryableStatus(status int) bool {
	return status == 429 || status >= 500
}

// estimateCost looks up a per-million-token price table by longest matching
// key prefix and applies it to Usage; models absent from the table cost 0,
// and AgentLoop adds that 0 to its running total, so they count as free
// against the cost limit.
func estimateCost(table map[string][2]float64, modelID string, u Usage) float64 {
	modelID = strings.ToLower(modelID)
	var best string
	for prefix := range table {
		if len(prefix) > len(best) && strings.HasPrefix(modelID, prefix) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	prices := table[best]
	return float64(u.InputTokens)/1_000_000*prices[0] + float64(u.OutputTokens)/1_000_000*prices[1]
}
