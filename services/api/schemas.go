// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the HTTP surface: chat, health, diagnostics,
// session stats, and Prometheus metrics.
package api

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	// Query is the user's question. Required but may be blank, which gets
	// a clarification response rather than an error.
	Query string `json:"query"`

	// SessionID scopes conversation history; defaults to "default".
	SessionID string `json:"session_id"`
}

// ChatResponse mirrors the orchestrator's QueryResult on the wire.
type ChatResponse struct {
	Response       string  `json:"response"`
	CostUSD        float64 `json:"cost_usd"`
	Agent          string  `json:"agent_used"`
	SessionID      string  `json:"session_id"`
	PrefetchActive bool    `json:"prefetch_active"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// InfoResponse describes the service at GET /.
type InfoResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// DiagnosticResponse is the per-layer probe result for one query.
type DiagnosticResponse struct {
	Query     string    `json:"query"`
	FlowTrace FlowTrace `json:"flow_trace"`
}

// FlowTrace reports each layer's probe outcome.
type FlowTrace struct {
	Retrieval  RetrievalTrace  `json:"retrieval"`
	MarketData MarketDataTrace `json:"market_data"`
	Generation GenerationTrace `json:"generation"`
}

// RetrievalTrace probes the hybrid index with the raw query.
type RetrievalTrace struct {
	Success      bool     `json:"success"`
	NumResults   int      `json:"num_results"`
	TickersFound []string `json:"tickers_found"`
	SampleTitles []string `json:"sample_titles"`
}

// MarketDataTrace probes the quotes source with the first extracted ticker.
type MarketDataTrace struct {
	Success         bool     `json:"success"`
	TickerExtracted string   `json:"ticker_extracted"`
	DataAvailable   bool     `json:"data_available"`
	CurrentPrice    *float64 `json:"current_price,omitempty"`
}

// GenerationTrace reports orchestration readiness without a model call.
type GenerationTrace struct {
	OrchestratorReady    bool `json:"orchestrator_ready"`
	SpecialistPoolActive bool `json:"specialist_pool_active"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
