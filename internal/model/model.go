// Package model defines the ModelClient abstraction AgentLoop queries each
// turn, plus the retry/cost-accounting helpers shared by every concrete
// adapter. A ModelClient returns one complete response per call: AgentLoop
// cannot parse an Action until the full completion text is available, so
// there is no benefit to token-level streaming in this control loop.
package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Message is one entry of the conversation sent to the model, converted from
// swe.Turn history by the caller (internal/agentloop).
type Message struct {
	Role    swe.Role
	Content string
	// ToolName/ToolArgs are set for an assistant message that issued a
	// function-call-style action, so providers with native tool-use can
	// round-trip it instead of re-serializing it into plain text.
	ToolName string
	ToolArgs map[string]any
}

// ToolDefinition is a tool surfaced to the model's native function-calling
// interface, derived from swe.ToolSpec by the caller.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is one query to a ModelClient.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
	Model     string
}

// Usage records token accounting for a single response.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall is a structured function-call the model issued instead of (or in
// addition to) plain text.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Response is a ModelClient's completion for one Request.
type Response struct {
	Text     string
	ToolCall *ToolCall
	Usage    Usage
	// Cost is computed by the adapter from Usage and the provider's
	// published per-token pricing for Request.Model.
	Cost float64
}

// ModelClient queries a language model for the next turn. Implementations
// must return *swe.ProviderTransientError for retryable failures (rate
// limits, 5xx, timeouts) so AgentLoop's retry policy can apply uniformly
// across providers, and a plain error for anything permanent.
type ModelClient interface {
	Query(ctx context.Context, req Request) (*Response, error)
}

// RetryConfig controls ModelClient.Query's exponential backoff retry helper.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (c RetryConfig) sanitize() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// WithRetry wraps a ModelClient so every Query is retried with exponential
// backoff while the underlying call returns a *swe.ProviderTransientError.
func WithRetry(client ModelClient, cfg RetryConfig) ModelClient {
	return &retryingClient{client: client, cfg: cfg.sanitize()}
}

type retryingClient struct {
	client ModelClient
	cfg    RetryConfig
}

func (r *retryingClient) Query(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, err := r.client.Query(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var transient *swe.ProviderTransientError
		if !errors.As(err, &transient) {
			return nil, err
		}
	}
	return nil, lastErr
}

// classifyHTTPError maps a lowercased error message to a retryable or
// permanent error, simplified to the binary retryable/not split this
// package needs.
func classifyHTTPError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	retryable := strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused")
	if retryable {
		return &swe.ProviderTransientError{Cause: err}
	}
	return err
}
