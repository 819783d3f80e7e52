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
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func okResponse(text string) string {
	return `{
		"id": "msg_1", "type": "message", "role": "assistant",
		"content": [{"type": "text", "text": ` + mustJSON(text) + `}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 1000, "output_tokens": 200,
		          "cache_creation_input_tokens": 0, "cache_read_input_tokens": 0}
	}`
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestChatParsesTextAndCost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version = %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		w.Write([]byte(okResponse("Hello there")))
	}))
	defer srv.Close()

	c := NewClientWithConfig("test-key", ModelGeneralist, srv.URL)
	res, err := c.Chat(context.Background(), "be brief", []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Content != "Hello there" {
		t.Errorf("content = %q", res.Content)
	}

	// 1000 in at $3/M + 200 out at $15/M.
	want := 1000*3.0/1e6 + 200*15.0/1e6
	if math.Abs(res.CostUSD-want) > 1e-12 {
		t.Errorf("cost = %f, want %f", res.CostUSD, want)
	}
}

func TestChatRequestShape(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(okResponse("ok")))
	}))
	defer srv.Close()

	c := NewClientWithConfig("k", ModelGeneralist, srv.URL)
	messages := []Message{
		{Role: RoleUser, Content: "what is AAPL at?"},
		{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{
			{ID: "tu_1", Name: "get_price", Arguments: json.RawMessage(`{"ticker":"AAPL"}`)},
		}},
		{Role: RoleTool, Content: `{"price": 190}`, ToolCallID: "tu_1"},
	}
	_, err := c.Chat(context.Background(), "system text", messages, Options{
		CacheSystemPrompt: true,
		Temperature:       0.7,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	system := captured["system"].([]any)
	block := system[0].(map[string]any)
	if block["text"] != "system text" {
		t.Errorf("system text = %v", block["text"])
	}
	cc := block["cache_control"].(map[string]any)
	if cc["type"] != "ephemeral" {
		t.Errorf("cache_control type = %v", cc["type"])
	}

	msgs := captured["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}

	// Assistant tool call rides as a tool_use block.
	assistant := msgs[1].(map[string]any)
	blocks := assistant["content"].([]any)
	last := blocks[len(blocks)-1].(map[string]any)
	if last["type"] != "tool_use" || last["name"] != "get_price" {
		t.Errorf("tool_use block = %v", last)
	}

	// Tool result rides as a user message with a tool_result block.
	toolMsg := msgs[2].(map[string]any)
	if toolMsg["role"] != "user" {
		t.Errorf("tool result role = %v", toolMsg["role"])
	}
	result := toolMsg["content"].([]any)[0].(map[string]any)
	if result["type"] != "tool_result" || result["tool_use_id"] != "tu_1" {
		t.Errorf("tool_result block = %v", result)
	}
}

func TestChatNegativeTemperatureOmitted(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(okResponse("ok")))
	}))
	defer srv.Close()

	c := NewClientWithConfig("k", ModelGeneralist, srv.URL)
	if _, err := c.Chat(context.Background(), "s", []Message{{Role: RoleUser, Content: "q"}}, Options{Temperature: -1}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, present := captured["temperature"]; present {
		t.Error("negative temperature should be omitted from the payload")
	}
}

func TestChatParsesToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "msg_2", "type": "message", "role": "assistant",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "tu_9", "name": "search_news",
				 "input": {"query": "NVDA earnings"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := NewClientWithConfig("k", ModelGeneralist, srv.URL)
	res, err := c.Chat(context.Background(), "s", []Message{{Role: RoleUser, Content: "q"}}, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.ID != "tu_9" || tc.Name != "search_news" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]string
	if err := json.Unmarshal(tc.ArgumentsOr(), &args); err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if args["query"] != "NVDA earnings" {
		t.Errorf("query arg = %q", args["query"])
	}
	if res.Content != "Let me check." {
		t.Errorf("content = %q", res.Content)
	}
}

func TestChatRetriesOnceOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(okResponse("recovered")))
	}))
	defer srv.Close()

	c := NewClientWithConfig("k", ModelGeneralist, srv.URL)
	res, err := c.Chat(context.Background(), "s", []Message{{Role: RoleUser, Content: "q"}}, Options{})
	if err != nil {
		t.Fatalf("Chat after retry: %v", err)
	}
	if res.Content != "recovered" {
		t.Errorf("content = %q", res.Content)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestChatDoesNotRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid request"}}`))
	}))
	defer srv.Close()

	c := NewClientWithConfig("k", ModelGeneralist, srv.URL)
	_, err := c.Chat(context.Background(), "s", []Message{{Role: RoleUser, Content: "q"}}, Options{})
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if !strings.Contains(err.Error(), "status 400") {
		t.Errorf("error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestChatSurfacesErrorAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClientWithConfig("k", ModelGeneralist, srv.URL)
	if _, err := c.Chat(context.Background(), "s", []Message{{Role: RoleUser, Content: "q"}}, Options{}); err == nil {
		t.Fatal("expected error after exhausted retry")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestCostUSDTiers(t *testing.T) {
	u := Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	if got := CostUSD(ModelGeneralist, u); math.Abs(got-18.0) > 1e-9 {
		t.Errorf("generalist cost = %f, want 18", got)
	}
	if got := CostUSD(ModelMarketSpecialist, u); math.Abs(got-90.0) > 1e-9 {
		t.Errorf("market specialist cost = %f, want 90", got)
	}

	// Cache reads are billed at the discounted rate.
	cached := Usage{CacheReadTokens: 1_000_000}
	if got := CostUSD(ModelGeneralist, cached); math.Abs(got-0.30) > 1e-9 {
		t.Errorf("cache-read cost = %f, want 0.30", got)
	}

	// Unknown models fall back to the generalist tier.
	if got := CostUSD("mystery-model", u); math.Abs(got-18.0) > 1e-9 {
		t.Errorf("unknown-model cost = %f, want 18", got)
	}
}

func TestCostTracker(t *testing.T) {
	tr := NewCostTracker()
	tr.Record("s1", 0.01)
	tr.Record("s1", 0.02)
	tr.Record("s2", 0.10)

	if got := tr.SessionTotal("s1"); math.Abs(got-0.03) > 1e-12 {
		t.Errorf("s1 total = %f", got)
	}
	total, calls := tr.Totals()
	if math.Abs(total-0.13) > 1e-12 || calls != 3 {
		t.Errorf("totals = %f/%d", total, calls)
	}
	if got := tr.SessionTotal("unknown"); got != 0 {
		t.Errorf("unknown session total = %f", got)
	}
}
