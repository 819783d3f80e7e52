// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/entropy/services/generation"
	"github.com/AleutianAI/entropy/services/marketdata"
	"github.com/AleutianAI/entropy/services/retrieval"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// defaultSessionID scopes requests that omit session_id.
const defaultSessionID = "default"

// Handlers holds the service dependencies for the HTTP layer.
//
// Thread Safety: Immutable after construction; the dependencies are
// internally synchronized.
type Handlers struct {
	orchestrator *generation.Orchestrator
	retriever    *retrieval.HybridRetriever
	market       *marketdata.Service
	logger       *slog.Logger
}

// NewHandlers wires the HTTP layer to its dependencies.
func NewHandlers(orch *generation.Orchestrator, retriever *retrieval.HybridRetriever, market *marketdata.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{orchestrator: orch, retriever: retriever, market: market, logger: logger}
}

// HandleChat processes one query through the orchestrator.
//
// # Description
//
// POST /chat. A blank query is not an error: the orchestrator answers it
// with a clarification at zero cost. Malformed JSON is a 400.
func (h *Handlers) HandleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}

	result := h.orchestrator.ProcessQuery(c.Request.Context(), req.Query, req.SessionID)
	c.JSON(http.StatusOK, ChatResponse{
		Response:       result.Response,
		CostUSD:        result.CostUSD,
		Agent:          result.Agent,
		SessionID:      result.SessionID,
		PrefetchActive: result.PrefetchActive,
	})
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: Version})
}

// HandleInfo describes the service at the root path.
func (h *Handlers) HandleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Service: "ENTROPY - Evaluation of News and Trends: a Retrieval-Optimized Prototype",
		Version: Version,
		Endpoints: []string{
			"POST /chat",
			"GET /health",
			"GET /diagnostic/:query",
			"GET /sessions/:id/stats",
			"GET /metrics",
		},
	})
}

// HandleSessionStats reports per-session usage.
func (h *Handlers) HandleSessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.Stats(c.Param("id")))
}

// HandleDiagnostic probes each layer with the given query and reports
// what flowed through where. No model calls are made.
//
// # Description
//
// GET /diagnostic/:query. Retrieval is probed with the raw query (top 3),
// market data with the first extracted ticker, and generation by
// readiness checks. Each probe logs a [DIAGNOSTIC] line so the flow can
// be followed in the server log.
func (h *Handlers) HandleDiagnostic(c *gin.Context) {
	query := c.Param("query")
	ctx := c.Request.Context()
	resp := DiagnosticResponse{Query: query}

	// Layer 1: retrieval.
	hits := h.retriever.Search(ctx, query, 3, nil)
	resp.FlowTrace.Retrieval.Success = true
	resp.FlowTrace.Retrieval.NumResults = len(hits)
	for _, hit := range hits {
		doc, ok := h.retriever.Document(hit.DocID)
		if !ok {
			continue
		}
		resp.FlowTrace.Retrieval.SampleTitles = append(resp.FlowTrace.Retrieval.SampleTitles, doc.Title)
		for _, t := range doc.Tickers {
			if !contains(resp.FlowTrace.Retrieval.TickersFound, t) {
				resp.FlowTrace.Retrieval.TickersFound = append(resp.FlowTrace.Retrieval.TickersFound, t)
			}
		}
	}
	h.logger.Info("[DIAGNOSTIC] retrieval probe",
		slog.String("query", query),
		slog.Int("num_results", len(hits)))

	// Layer 2: market data, keyed on the first ticker in the query.
	ticker := generation.ExtractFirstTicker(query)
	resp.FlowTrace.MarketData.TickerExtracted = ticker
	if ticker != "" {
		resp.FlowTrace.MarketData.Success = true
		if snap := h.market.GetPrice(ctx, ticker); snap != nil && snap.CurrentPrice != nil {
			resp.FlowTrace.MarketData.DataAvailable = true
			resp.FlowTrace.MarketData.CurrentPrice = snap.CurrentPrice
		}
	}
	h.logger.Info("[DIAGNOSTIC] market data probe",
		slog.String("ticker", ticker),
		slog.Bool("data_available", resp.FlowTrace.MarketData.DataAvailable))

	// Layer 3: generation readiness.
	resp.FlowTrace.Generation.OrchestratorReady = h.orchestrator != nil && h.orchestrator.Ready()
	resp.FlowTrace.Generation.SpecialistPoolActive = resp.FlowTrace.Generation.OrchestratorReady
	h.logger.Info("[DIAGNOSTIC] generation probe",
		slog.Bool("orchestrator_ready", resp.FlowTrace.Generation.OrchestratorReady))

	c.JSON(http.StatusOK, resp)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
