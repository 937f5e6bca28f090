package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// BedrockConfig configures a Bedrock-backed ModelClient. AccessKeyID and
// SecretAccessKey are optional; when absent NewBedrock falls back to the
// default AWS credential chain (environment, shared config, instance role).
type BedrockConfig struct {
	Region          string
	DefaultModel    string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Bedrock is a ModelClient backed by the AWS Bedrock Converse API, used for
// on-prem/VPC-restricted deployments that route through AWS instead of
// calling a provider's public API directly.
type Bedrock struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrock creates a Bedrock-backed ModelClient using the default AWS
// credential chain.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &swe.ConfigError{Component: "model.Bedrock", Reason: "load AWS config: " + err.Error()}
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(awsCfg), defaultModel: model}, nil
}

func (b *Bedrock) Query(ctx context.Context, req Request) (*Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = b.defaultModel
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := brtypes.ConversationRoleUser
		if m.Role == swe.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	for _, t := range req.Tools {
		schemaDoc, err := toDocument(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("convert schema for tool %s: %w", t.Name, err)
		}
		if input.ToolConfig == nil {
			input.ToolConfig = &brtypes.ToolConfiguration{}
		}
		input.ToolConfig.Tools = append(input.ToolConfig.Tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
			},
		})
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		var throttle *brtypes.ThrottlingException
		var serviceUnavailable *brtypes.ServiceUnavailableException
		var modelTimeout *brtypes.ModelTimeoutException
		if errors.As(err, &throttle) || errors.As(err, &serviceUnavailable) || errors.As(err, &modelTimeout) {
			return nil, &swe.ProviderTransientError{Cause: err}
		}
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	resp := &Response{}
	if out.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	if msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			switch variant := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += variant.Value
			case *brtypes.ContentBlockMemberToolUse:
				args, err := fromDocument(variant.Value.Input)
				if err == nil {
					resp.ToolCall = &ToolCall{Name: aws.ToString(variant.Value.Name), Args: args}
				}
			}
		}
	}
	return resp, nil
}

func toDocument(schema map[string]any) (document.Interface, error) {
	return document.NewLazyDocument(schema), nil
}

func fromDocument(doc document.Interface) (map[string]any, error) {
	var out map[string]any
	if doc == nil {
		return out, nil
	}
	if err := doc.UnmarshalSmithyDocument(&out); err != nil {
		return nil, err
	}
	return out, nil
}
