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

import "sync"

// Model tiers used by the agent system. The generalist and news specialist
// ride the cheap/mid tier; the market specialist pays for the expensive tier.
const (
	ModelGeneralist       = "claude-sonnet-4-20250514"
	ModelMarketSpecialist = "claude-opus-4-20250514"
	ModelNewsSpecialist   = "claude-sonnet-4-20250514"
)

// ModelPricing holds per-model token pricing in dollars per million tokens.
//
// Thread Safety: ModelPricing is a value type, safe to copy.
type ModelPricing struct {
	// InputPerMillion is the cost in USD per million uncached input tokens.
	InputPerMillion float64

	// OutputPerMillion is the cost in USD per million output tokens.
	OutputPerMillion float64

	// CacheWritePerMillion is the premium rate for writing a prompt prefix
	// into the provider cache.
	CacheWritePerMillion float64

	// CacheReadPerMillion is the discounted rate (~10% of input) for
	// tokens served from the prompt cache.
	CacheReadPerMillion float64
}

// defaultPricing contains pricing for known models.
// Prices are based on published rates as of 2025.
var defaultPricing = map[string]ModelPricing{
	"claude-sonnet-4-20250514": {
		InputPerMillion:      3.0,
		OutputPerMillion:     15.0,
		CacheWritePerMillion: 3.75,
		CacheReadPerMillion:  0.30,
	},
	"claude-opus-4-20250514": {
		InputPerMillion:      15.0,
		OutputPerMillion:     75.0,
		CacheWritePerMillion: 18.75,
		CacheReadPerMillion:  1.50,
	},
	"claude-haiku-4-5-20251001": {
		InputPerMillion:      1.0,
		OutputPerMillion:     5.0,
		CacheWritePerMillion: 1.25,
		CacheReadPerMillion:  0.10,
	},
}

// PricingFor returns the pricing row for a model, falling back to the
// generalist tier for unknown models so cost is never silently zero.
func PricingFor(model string) ModelPricing {
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	return defaultPricing[ModelGeneralist]
}

// CostUSD computes the deterministic cost of one call from reported usage.
//
// Description:
//
//	cost = uncached_input·input_rate + cache_write·write_rate +
//	       cache_read·read_rate + output·output_rate, all per-million.
//	The provider reports InputTokens exclusive of cached tokens, so no
//	subtraction is needed here.
func CostUSD(model string, u Usage) float64 {
	p := PricingFor(model)
	cost := float64(u.InputTokens) * p.InputPerMillion
	cost += float64(u.CacheWriteTokens) * p.CacheWritePerMillion
	cost += float64(u.CacheReadTokens) * p.CacheReadPerMillion
	cost += float64(u.OutputTokens) * p.OutputPerMillion
	return cost / 1_000_000
}

// CostTracker accumulates LLM spend per session and in total.
//
// Description:
//
//	Every successful model call records its cost against the session that
//	triggered it. Background pre-fetch work records against the session
//	too, but the per-query response cost is assembled by the orchestrator
//	from the individual call results, so unconsumed pre-fetches never
//	inflate a reported response cost.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type CostTracker struct {
	mu        sync.Mutex
	bySession map[string]float64
	total     float64
	calls     int64
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{bySession: make(map[string]float64)}
}

// Record adds the cost of one call to a session's running total.
func (c *CostTracker) Record(sessionID string, costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySession[sessionID] += costUSD
	c.total += costUSD
	c.calls++
}

// SessionTotal returns the cumulative spend for one session.
func (c *CostTracker) SessionTotal(sessionID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bySession[sessionID]
}

// Totals returns the cumulative spend and call count across all sessions.
func (c *CostTracker) Totals() (costUSD float64, calls int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, c.calls
}
