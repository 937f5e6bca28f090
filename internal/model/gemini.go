package model

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

var geminiPricing = map[string][2]float64{
	"gemini-1.5-pro":   {1.25, 5.00},
	"gemini-1.5-flash": {0.075, 0.30},
	"gemini-2.0-flash": {0.10, 0.40},
}

// GeminiConfig configures a Gemini-backed ModelClient.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// Gemini is a ModelClient backed by Google's Gemini API.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

// NewGemini creates a Gemini-backed ModelClient.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, &swe.ConfigError{Component: "model.Gemini", Reason: "API key is required"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &Gemini{client: client, defaultModel: model}, nil
}

func (g *Gemini) Query(ctx context.Context, req Request) (*Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = g.defaultModel
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == swe.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	for _, t := range req.Tools {
		schema, err := toGenaiSchema(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("convert schema for tool %s: %w", t.Name, err)
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			}},
		})
	}

	result, err := g.client.Models.GenerateContent(ctx, modelID, contents, cfg)
	if err != nil {
		return nil, classifyHTTPError(fmt.Errorf("gemini query: %w", err))
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini query: no candidates returned")
	}

	resp := &Response{}
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			resp.Text += part.Text
		}
		if part.FunctionCall != nil {
			resp.ToolCall = &ToolCall{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}
		}
	}
	if result.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	resp.Cost = estimateCost(geminiPricing, modelID, resp.Usage)
	return resp, nil
}

func toGenaiSchema(schema map[string]any) (*genai.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var s genai.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
