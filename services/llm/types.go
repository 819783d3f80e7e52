// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps the Anthropic messages API for the ENTROPY agents.
//
// The package owns three concerns: the wire protocol (including prompt-prefix
// caching and tool use), the per-model cost table, and cumulative per-session
// cost accounting. It never executes tool calls; when the model emits them
// they are returned to the caller verbatim.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles used across the agent system.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation message.
//
// Description:
//
//	Regular messages use Role + Content. Assistant messages that requested
//	tools carry ToolCalls; tool result messages carry the ToolCallID they
//	answer plus the serialized result in Content.
//
// Thread Safety: Message is safe for concurrent read access.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool invocations (assistant messages only).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result message back to a specific tool call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a provider-agnostic tool invocation emitted by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string `json:"id"`

	// Name is the tool name to invoke.
	Name string `json:"name"`

	// Arguments is the raw JSON argument object.
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsOr returns the arguments, or "{}" when the model sent none.
func (t *ToolCall) ArgumentsOr() json.RawMessage {
	if len(t.Arguments) == 0 {
		return json.RawMessage(`{}`)
	}
	return t.Arguments
}

// ToolDef declares one tool the model may call.
//
// The schema follows the Anthropic input_schema convention (a JSON Schema
// object). The generation package owns the registry of handlers; this type
// is only the declaration shipped on the wire.
type ToolDef struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema ToolSchema `json:"input_schema"`
}

// ToolSchema is the JSON Schema object describing tool parameters.
type ToolSchema struct {
	Type       string              `json:"type"`
	Properties map[string]ParamDef `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ParamDef describes a single tool parameter.
type ParamDef struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`

	// Items describes array element types. Nil for scalars.
	Items *ParamDef `json:"items,omitempty"`
}

// ObjectSchema builds a ToolSchema with the given properties and required list.
func ObjectSchema(props map[string]ParamDef, required ...string) ToolSchema {
	return ToolSchema{Type: "object", Properties: props, Required: required}
}

// Usage holds the token counts reported by the provider for one call.
//
// CacheReadTokens are input tokens served from the provider's prompt-prefix
// cache at the discounted rate; CacheWriteTokens were written to it at the
// premium rate. InputTokens is the uncached remainder.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
}

// Result is the outcome of a single model call.
//
// Thread Safety: Result is safe for concurrent read access.
type Result struct {
	// Content is the assistant text (may be empty if only tool calls).
	Content string

	// ToolCalls contains tool calls requested by the model. The client
	// does not execute them; execution belongs to the agent loop.
	ToolCalls []ToolCall

	// StopReason is "end_turn", "tool_use", or "max_tokens".
	StopReason string

	// Usage is the provider-reported token accounting.
	Usage Usage

	// CostUSD is the deterministic cost of this call from the cost table.
	CostUSD float64

	// Model is the model that produced this result.
	Model string
}

// Options holds per-call generation parameters.
type Options struct {
	// Temperature in [0, 1]. Negative values omit the field and use the
	// provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero uses the client default.
	MaxTokens int

	// CacheSystemPrompt marks the leading system block with ephemeral
	// cache_control so subsequent calls on the same prefix pay the
	// cache-read rate.
	CacheSystemPrompt bool

	// Tools declares the tools available to the model. Empty disables
	// tool use for the call.
	Tools []ToolDef
}

// Provider is the minimal model interface the agents depend on.
//
// Thread Safety: implementations must be safe for concurrent use.
type Provider interface {
	// Chat sends a system prompt plus conversation and returns the result.
	Chat(ctx context.Context, system string, messages []Message, opts Options) (*Result, error)

	// Model reports the model identifier this provider is bound to.
	Model() string
}
