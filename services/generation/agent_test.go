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
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/entropy/services/llm"
)

// scriptStep is one scripted provider response.
type scriptStep struct {
	res *llm.Result
	err error
}

// stubProvider replays a script of responses and captures every call. When
// loop is set the final step repeats forever.
type stubProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	loop  bool
	delay time.Duration

	systems []string
	convs   [][]llm.Message
	opts    []llm.Options
}

func (s *stubProvider) Chat(_ context.Context, system string, messages []llm.Message, opts llm.Options) (*llm.Result, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.systems = append(s.systems, system)
	s.convs = append(s.convs, append([]llm.Message(nil), messages...))
	s.opts = append(s.opts, opts)

	if len(s.steps) == 0 {
		return nil, errors.New("stub script exhausted")
	}
	step := s.steps[0]
	if len(s.steps) > 1 || !s.loop {
		s.steps = s.steps[1:]
	}
	return step.res, step.err
}

func (s *stubProvider) Model() string { return "stub-model" }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.systems)
}

func textReply(text string, cost float64) scriptStep {
	return scriptStep{res: &llm.Result{
		Content:    text,
		StopReason: "end_turn",
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 50},
		CostUSD:    cost,
	}}
}

func toolReply(id, name, args string) scriptStep {
	return scriptStep{res: &llm.Result{
		Content:    "",
		StopReason: "tool_use",
		ToolCalls:  []llm.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}},
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 20},
		CostUSD:    0.001,
	}}
}

// priceBelt is a one-tool belt whose handler echoes a fixed quote.
func priceBelt() *ToolBelt {
	return NewToolBelt(Tool{
		Def: llm.ToolDef{Name: "get_price", Description: "test quote"},
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			return `{"ticker": "AAPL", "price": 190.5}`, nil
		},
	})
}

func TestAgentToolLoop(t *testing.T) {
	provider := &stubProvider{steps: []scriptStep{
		toolReply("tu_1", "get_price", `{"ticker":"AAPL"}`),
		textReply("AAPL trades at $190.50.", 0.004),
	}}
	agent := NewAgent("generalist", provider, "system text", 0.7, true, priceBelt())

	res := agent.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "price of AAPL?"}})

	if res.Text != "AAPL trades at $190.50." {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.ToolTurns) != 1 || res.ToolTurns[0].Name != "get_price" {
		t.Fatalf("tool turns = %+v", res.ToolTurns)
	}
	if !strings.Contains(res.ToolTurns[0].Result, "190.5") {
		t.Errorf("tool result = %q", res.ToolTurns[0].Result)
	}
	if diff := res.CostUSD - 0.005; diff < -1e-12 || diff > 1e-12 {
		t.Errorf("cost = %f", res.CostUSD)
	}

	// The second call must carry the assistant tool call and its result.
	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d", provider.callCount())
	}
	conv := provider.convs[1]
	if len(conv) != 3 {
		t.Fatalf("second-call conversation = %d messages", len(conv))
	}
	if conv[1].Role != llm.RoleAssistant || len(conv[1].ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", conv[1])
	}
	if conv[2].Role != llm.RoleTool || conv[2].ToolCallID != "tu_1" {
		t.Errorf("tool turn = %+v", conv[2])
	}

	// Tool defs ride on every call for a belted agent.
	if len(provider.opts[0].Tools) != 1 || provider.opts[0].Tools[0].Name != "get_price" {
		t.Errorf("tool defs = %+v", provider.opts[0].Tools)
	}
	if !provider.opts[0].CacheSystemPrompt {
		t.Error("system prompt caching not requested")
	}
}

func TestAgentStepBudget(t *testing.T) {
	// The model never stops asking for tools; the loop must cut it off.
	provider := &stubProvider{
		steps: []scriptStep{toolReply("tu_x", "get_price", `{}`)},
		loop:  true,
	}
	agent := NewAgent("market_specialist", provider, "s", 0.2, false, priceBelt())

	res := agent.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})

	if !strings.HasSuffix(res.Text, stepBudgetNote) {
		t.Errorf("text missing budget note: %q", res.Text)
	}
	if len(res.ToolTurns) != maxToolRounds {
		t.Errorf("tool turns = %d, want %d", len(res.ToolTurns), maxToolRounds)
	}
	if provider.callCount() != maxToolRounds+1 {
		t.Errorf("provider calls = %d, want %d", provider.callCount(), maxToolRounds+1)
	}
}

func TestAgentProviderFailure(t *testing.T) {
	provider := &stubProvider{steps: []scriptStep{{err: errors.New("boom")}}}
	agent := NewAgent("generalist", provider, "s", 0.7, false, nil)

	res := agent.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})
	if res.Text != llmUnavailableResponse {
		t.Errorf("text = %q", res.Text)
	}
	if res.CostUSD != 0 {
		t.Errorf("cost = %f, want 0", res.CostUSD)
	}
}

func TestAgentProviderFailureKeepsPartialText(t *testing.T) {
	provider := &stubProvider{steps: []scriptStep{
		{res: &llm.Result{
			Content:    "Partial finding.",
			StopReason: "tool_use",
			ToolCalls:  []llm.ToolCall{{ID: "tu_1", Name: "get_price"}},
			CostUSD:    0.002,
		}},
		{err: errors.New("boom")},
	}}
	agent := NewAgent("generalist", provider, "s", 0.7, false, priceBelt())

	res := agent.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})
	if res.Text != "Partial finding." {
		t.Errorf("text = %q, want the pre-failure text kept", res.Text)
	}
	if len(res.ToolTurns) != 1 {
		t.Errorf("tool turns = %d", len(res.ToolTurns))
	}
}

func TestWithSystemSuffix(t *testing.T) {
	provider := &stubProvider{steps: []scriptStep{textReply("ok", 0.001), textReply("ok", 0.001)}}
	agent := NewAgent("generalist", provider, "base.", 0.7, false, nil)

	agent.WithSystemSuffix(" Suffix.").Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})
	agent.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})

	if provider.systems[0] != "base. Suffix." {
		t.Errorf("suffixed system = %q", provider.systems[0])
	}
	// The original agent is untouched.
	if provider.systems[1] != "base." {
		t.Errorf("original system = %q", provider.systems[1])
	}
}

func TestWithoutTools(t *testing.T) {
	provider := &stubProvider{steps: []scriptStep{textReply("synthesized", 0.001)}}
	agent := NewAgent("generalist", provider, "s", 0.7, true, priceBelt())

	res := agent.WithoutTools(0.3).Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})
	if res.Text != "synthesized" {
		t.Errorf("text = %q", res.Text)
	}
	if len(provider.opts[0].Tools) != 0 {
		t.Error("tool defs sent for a tool-less clone")
	}
	if provider.opts[0].Temperature != 0.3 {
		t.Errorf("temperature = %f", provider.opts[0].Temperature)
	}
	if provider.opts[0].CacheSystemPrompt {
		t.Error("tool-less clone should not request prompt caching")
	}
}
