package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

var openAIPricing = map[string][2]float64{
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4o":      {2.50, 10.00},
	"gpt-4-turbo": {10.00, 30.00},
	"gpt-4":       {30.00, 60.00},
	"gpt-3.5":     {0.50, 1.50},
}

// OpenAIConfig configures an OpenAI-backed ModelClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAI is a ModelClient backed by the OpenAI chat completions API.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI creates an OpenAI-backed ModelClient.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, &swe.ConfigError{Component: "model.OpenAI", Reason: "API key is required"}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), defaultModel: model}, nil
}

func (o *OpenAI) Query(ctx context.Context, req Request) (*Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = o.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == swe.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		raw, err := json.Marshal(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for tool %s: %w", t.Name, err)
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(raw),
			},
		})
	}

	completion, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && isRetryableStatus(apiErr.HTTPStatusCode) {
			return nil, &swe.ProviderTransientError{Cause: err}
		}
		return nil, classifyHTTPError(fmt.Errorf("openai query: %w", err))
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai query: no choices returned")
	}

	choice := completion.Choices[0]
	resp := &Response{
		Text: choice.Message.Content,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCall = &ToolCall{Name: tc.Function.Name, Args: args}
	}
	resp.Cost = estimateCost(openAIPricing, modelID, resp.Usage)
	return resp, nil
}
