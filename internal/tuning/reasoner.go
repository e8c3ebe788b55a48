// Package tuning proposes and applies rule-configuration changes: the advisor
// asks an external reasoning service for suggestions, operators review them,
// and the applier writes approved ones back to the rule document.
package tuning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

var tracer = otel.Tracer("fraudwatch-tuning")

// maxResponseBytes caps how much of a reasoning-service response is read.
const maxResponseBytes = 4 << 20

// ChangeRequest is the payload the advisor sends for review.
type ChangeRequest struct {
	Rules   domain.RuleDocument      `json:"current_rules"`
	Flagged []domain.FlaggedDecision `json:"recent_flagged"`
}

// Reasoner proposes rule changes for a change request and returns the
// service's raw text. Parsing is left to the caller.
type Reasoner interface {
	Propose(ctx context.Context, req *ChangeRequest) (string, error)
}

// ReasonerFunc adapts a function to the Reasoner interface.
type ReasonerFunc func(ctx context.Context, req *ChangeRequest) (string, error)

func (f ReasonerFunc) Propose(ctx context.Context, req *ChangeRequest) (string, error) {
	return f(ctx, req)
}

// StatusError is a non-2xx answer from the reasoning service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reasoning service returned status %d: %s", e.StatusCode, e.Message)
}

// TimeoutError is a call that exceeded its deadline.
type TimeoutError struct {
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("reasoning service timeout after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the chat completions response we read.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatClient is a Reasoner backed by any OpenAI-compatible
// chat completions endpoint.
type ChatClient struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewChatClient validates cfg and returns a client. The API key is optional
// for local model servers.
func NewChatClient(cfg domain.AdvisorConfig) (*ChatClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: advisor base URL is required", domain.ErrInvalidInput)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: advisor model is required", domain.ErrInvalidInput)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &ChatClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		client:  &http.Client{Transport: transport},
	}, nil
}

// Propose sends one chat completion and returns the first choice's content.
// The call is bounded by the configured timeout and never retried.
func (c *ChatClient) Propose(ctx context.Context, req *ChangeRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "reasoner.propose",
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int("advisor.flagged", len(req.Flagged)),
		),
	)
	defer span.End()

	content, err := c.propose(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return content, nil
}

func (c *ChatClient) propose(ctx context.Context, req *ChangeRequest) (string, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{Timeout: c.timeout, Cause: err}
		}
		return "", fmt.Errorf("reasoning service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{Timeout: c.timeout, Cause: err}
		}
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("reasoning service returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
