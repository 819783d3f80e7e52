// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/entropy/services/llm"
)

// maxToolRounds bounds the tool loop. On exhaustion the agent returns its
// best-so-far text with a budget note rather than failing.
const maxToolRounds = 6

// ToolTurn records one executed tool call in execution order.
type ToolTurn struct {
	Name      string
	Arguments string
	Result    string
}

// AgentResult is the outcome of one full agent run.
type AgentResult struct {
	Text      string
	CostUSD   float64
	TokensIn  int
	TokensOut int
	ToolTurns []ToolTurn
}

// Agent is a configured tool-using loop: system prompt, model tier,
// temperature, and a tool belt.
//
// # Description
//
// The three agent kinds (generalist, market specialist, news specialist)
// share this loop and differ only in configuration. The loop: call the
// model; if it requested tools, execute each via the belt, append the tool
// turns, and repeat; otherwise return the final text. Provider failures
// become a natural-language response — Run never returns an error, per
// the propagation policy.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent runs.
type Agent struct {
	Name        string
	provider    llm.Provider
	system      string
	temperature float64
	cacheSystem bool
	belt        *ToolBelt
	maxTokens   int
}

// NewAgent assembles an agent from its configuration.
func NewAgent(name string, provider llm.Provider, system string, temperature float64, cacheSystem bool, belt *ToolBelt) *Agent {
	return &Agent{
		Name:        name,
		provider:    provider,
		system:      system,
		temperature: temperature,
		cacheSystem: cacheSystem,
		belt:        belt,
		maxTokens:   2048,
	}
}

// WithSystemSuffix returns a copy of the agent with extra text appended to
// its system prompt. Used for the anchor-answer addition.
func (a *Agent) WithSystemSuffix(suffix string) *Agent {
	clone := *a
	clone.system = a.system + suffix
	return &clone
}

// WithoutTools returns a copy of the agent with tool use disabled and the
// given temperature. Used for the synthesis turn.
func (a *Agent) WithoutTools(temperature float64) *Agent {
	clone := *a
	clone.belt = nil
	clone.temperature = temperature
	clone.cacheSystem = false
	return &clone
}

// Run executes the tool loop over the given conversation.
func (a *Agent) Run(ctx context.Context, messages []llm.Message) *AgentResult {
	result := &AgentResult{}
	conv := append([]llm.Message(nil), messages...)

	opts := llm.Options{
		Temperature:       a.temperature,
		MaxTokens:         a.maxTokens,
		CacheSystemPrompt: a.cacheSystem,
	}
	if a.belt != nil {
		opts.Tools = a.belt.Defs()
	}

	for round := 0; ; round++ {
		reply, err := a.provider.Chat(ctx, a.system, conv, opts)
		if err != nil {
			slog.Error("agent model call failed",
				slog.String("agent", a.Name),
				slog.String("error", err.Error()))
			if result.Text == "" {
				result.Text = llmUnavailableResponse
			}
			return result
		}

		result.CostUSD += reply.CostUSD
		result.TokensIn += reply.Usage.InputTokens + reply.Usage.CacheReadTokens + reply.Usage.CacheWriteTokens
		result.TokensOut += reply.Usage.OutputTokens
		if reply.Content != "" {
			result.Text = reply.Content
		}

		if len(reply.ToolCalls) == 0 || a.belt == nil {
			return result
		}
		if round >= maxToolRounds {
			slog.Warn("agent step budget exceeded", slog.String("agent", a.Name))
			result.Text += stepBudgetNote
			return result
		}

		conv = append(conv, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, call := range reply.ToolCalls {
			out := a.belt.Execute(ctx, call.Name, call.ArgumentsOr())
			result.ToolTurns = append(result.ToolTurns, ToolTurn{
				Name:      call.Name,
				Arguments: string(call.ArgumentsOr()),
				Result:    out,
			})
			conv = append(conv, llm.Message{
				Role:       llm.RoleTool,
				Content:    out,
				ToolCallID: call.ID,
			})
		}
	}
}
