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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the full HTTP surface with the router.
//
// Endpoints:
//
//	GET  /                    - Service description
//	POST /chat                - Process a query through the orchestrator
//	GET  /health              - Liveness probe
//	GET  /diagnostic/:query   - Per-layer flow trace for a query
//	GET  /sessions/:id/stats  - Per-session usage summary
//	GET  /metrics             - Prometheus metrics
func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	router.GET("/", handlers.HandleInfo)
	router.POST("/chat", handlers.HandleChat)
	router.GET("/health", handlers.HandleHealth)
	router.GET("/diagnostic/:query", handlers.HandleDiagnostic)
	router.GET("/sessions/:id/stats", handlers.HandleSessionStats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
