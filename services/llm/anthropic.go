// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"

	// defaultMaxTokens bounds responses when Options.MaxTokens is zero.
	defaultMaxTokens = 1024

	// retryBackoff is the pause before the single transport retry.
	retryBackoff = 500 * time.Millisecond
)

// --- Wire format ---

type anthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []any         `json:"messages"`
	System    []systemBlock `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []any         `json:"tools,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicBlockMessage carries structured content blocks. Required for tool
// results and assistant turns that contain tool_use blocks.
type anthropicBlockMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicToolDef struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema ToolSchema `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []json.RawMessage `json:"content"`
	StopReason string            `json:"stop_reason,omitempty"`
	Usage      anthropicUsage    `json:"usage"`
	Error      *anthropicError   `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Client ---

// Client is an Anthropic messages API client bound to one model tier.
//
// Description:
//
//	Implements Provider. Each call computes its own deterministic cost
//	from the returned token counts and the package cost table. Transport
//	failures and 5xx responses are retried exactly once; after the retry
//	the error is surfaced to the caller (the agent converts it into a
//	message turn rather than a crash, per the propagation policy).
//
// Thread Safety: Safe for concurrent use. The client holds no per-call state.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewClient creates a client for the given model, reading ANTHROPIC_API_KEY
// from the environment.
//
// Outputs:
//   - *Client: The configured client.
//   - error: Non-nil when the API key is missing (misconfiguration; the
//     process wrapper maps this to exit code 1).
func NewClient(model string) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from Podman Secrets")
		}
	}

	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key is missing (ANTHROPIC_API_KEY)")
	}

	if model == "" {
		model = ModelGeneralist
	}

	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
	}, nil
}

// NewClientWithConfig creates a Client without reading environment variables.
// Useful for testing against httptest servers.
func NewClientWithConfig(apiKey, model, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Model reports the model identifier this client is bound to.
func (c *Client) Model() string { return c.model }

// Chat sends a system prompt plus conversation and returns the result.
//
// Description:
//
//	Converts the provider-agnostic messages into Anthropic content blocks:
//	tool results become user messages with tool_result blocks; assistant
//	turns with tool calls become tool_use blocks. When
//	opts.CacheSystemPrompt is set the system block is flagged with
//	ephemeral cache_control so repeat calls on the same prefix pay the
//	cache-read rate.
//
// Thread Safety: Safe for concurrent use.
func (c *Client) Chat(ctx context.Context, system string, messages []Message, opts Options) (*Result, error) {
	payload, err := c.buildRequest(system, messages, opts)
	if err != nil {
		return nil, err
	}

	body, err := c.doWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: decoding response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("llm: API error %s: %s", resp.Error.Type, resp.Error.Message)
	}

	result := &Result{
		StopReason: resp.StopReason,
		Model:      c.model,
		Usage: Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
		},
	}

	var texts []string
	for _, raw := range resp.Content {
		var block anthropicContentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			continue
		}
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	result.Content = strings.Join(texts, "\n")
	result.CostUSD = CostUSD(c.model, result.Usage)

	slog.Debug("anthropic call complete",
		slog.String("model", c.model),
		slog.Int("tokens_in", result.Usage.InputTokens),
		slog.Int("tokens_out", result.Usage.OutputTokens),
		slog.Int("cache_read", result.Usage.CacheReadTokens),
		slog.Int("tool_calls", len(result.ToolCalls)),
		slog.Float64("cost_usd", result.CostUSD),
	)

	return result, nil
}

// buildRequest assembles the JSON payload for one call.
func (c *Client) buildRequest(system string, messages []Message, opts Options) ([]byte, error) {
	var apiMessages []any

	for _, msg := range messages {
		switch {
		case msg.Role == RoleSystem:
			// System content rides the top-level system field; a stray
			// system message in the conversation is folded into it.
			if system == "" {
				system = msg.Content
			}

		case msg.Role == RoleTool && msg.ToolCallID != "":
			apiMessages = append(apiMessages, anthropicBlockMessage{
				Role: "user",
				Content: []any{anthropicToolResultBlock{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			var blocks []any
			if msg.Content != "" {
				blocks = append(blocks, anthropicTextBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.ArgumentsOr(),
				})
			}
			apiMessages = append(apiMessages, anthropicBlockMessage{Role: "assistant", Content: blocks})

		default:
			apiMessages = append(apiMessages, anthropicMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	var systemBlocks []systemBlock
	if system != "" {
		block := systemBlock{Type: "text", Text: system}
		if opts.CacheSystemPrompt {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	var apiTools []any
	for _, td := range opts.Tools {
		apiTools = append(apiTools, anthropicToolDef{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: td.InputSchema,
		})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := anthropicRequest{
		Model:     c.model,
		Messages:  apiMessages,
		System:    systemBlocks,
		MaxTokens: maxTokens,
		Tools:     apiTools,
	}
	if opts.Temperature >= 0 {
		t := opts.Temperature
		payload.Temperature = &t
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}
	return out, nil
}

// apiStatusError is a non-200 API response. Kept as a distinct type so the
// retry layer can separate server faults from request errors.
type apiStatusError struct {
	status int
	body   string
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("llm: API returned status %d: %s", e.status, e.body)
}

// retryable reports whether a failed call is worth repeating: transport
// failures and 5xx responses are; 4xx responses will fail the same way again.
func retryable(err error) bool {
	var statusErr *apiStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= http.StatusInternalServerError
	}
	return true
}

// doWithRetry executes the HTTP call, retrying once on transport failure
// or a 5xx response.
func (c *Client) doWithRetry(ctx context.Context, payload []byte) ([]byte, error) {
	body, err := c.do(ctx, payload)
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil || !retryable(err) {
		return nil, err
	}

	slog.Warn("anthropic call failed, retrying once", slog.String("error", err.Error()))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryBackoff):
	}
	return c.do(ctx, payload)
}

func (c *Client) do(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: creating HTTP request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiStatusError{status: resp.StatusCode, body: truncateForLog(string(body))}
	}
	return body, nil
}

// truncateForLog keeps error bodies out of log-flooding territory.
func truncateForLog(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
