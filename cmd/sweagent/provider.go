package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sweagent-go/sweagent/internal/config"
	"github.com/sweagent-go/sweagent/internal/model"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// buildModelClient dispatches on cfg.Name to one of the four concrete
// ModelClient adapters, falling back to a provider-specific environment
// variable and finally an interactive masked prompt when no API key is
// configured, then wraps the result with the retry policy every provider
// shares.
func buildModelClient(ctx context.Context, cfg config.ProviderConfig) (model.ModelClient, error) {
	retry := model.RetryConfig{MaxAttempts: cfg.MaxRetries}

	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "anthropic":
		key, err := resolveAPIKey(cfg.APIKey, "ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		client, err := model.NewAnthropic(model.AnthropicConfig{APIKey: key, BaseURL: cfg.BaseURL, DefaultModel: cfg.DefaultModel})
		if err != nil {
			return nil, err
		}
		return model.WithRetry(client, retry), nil

	case "openai":
		key, err := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		client, err := model.NewOpenAI(model.OpenAIConfig{APIKey: key, BaseURL: cfg.BaseURL, DefaultModel: cfg.DefaultModel})
		if err != nil {
			return nil, err
		}
		return model.WithRetry(client, retry), nil

	case "bedrock":
		client, err := model.NewBedrock(ctx, model.BedrockConfig{
			Region:          cfg.Region,
			DefaultModel:    cfg.DefaultModel,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
		})
		if err != nil {
			return nil, err
		}
		return model.WithRetry(client, retry), nil

	case "gemini":
		key, err := resolveAPIKey(cfg.APIKey, "GEMINI_API_KEY")
		if err != nil {
			return nil, err
		}
		client, err := model.NewGemini(ctx, model.GeminiConfig{APIKey: key, DefaultModel: cfg.DefaultModel})
		if err != nil {
			return nil, err
		}
		return model.WithRetry(client, retry), nil

	default:
		return nil, &swe.ConfigError{Component: "provider", Reason: fmt.Sprintf("unknown provider %q (want anthropic, openai, bedrock, or gemini)", cfg.Name)}
	}
}

// resolveAPIKey returns configured first, falls back to the named
// environment variable, and as a last resort prompts interactively with
// input echo disabled — so a key never lands in shell history or a config
// file checked into version control by accident.
func resolveAPIKey(configured, envVar string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if fromEnv := strings.TrimSpace(os.Getenv(envVar)); fromEnv != "" {
		return fromEnv, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", &swe.ConfigError{Component: "provider", Reason: fmt.Sprintf("no API key configured and %s is unset (non-interactive session, cannot prompt)", envVar)}
	}

	fmt.Fprintf(os.Stderr, "%s not set; enter API key: ", envVar)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read API key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", &swe.ConfigError{Component: "provider", Reason: "no API key entered"}
	}
	return key, nil
}
