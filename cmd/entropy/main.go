// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command entropy starts the ENTROPY API server.
//
// ENTROPY answers questions about 20 U.S. stocks through a multi-agent
// pipeline: a generalist agent handles most queries directly, and a
// bounded specialist pool provides deep market or news analysis when the
// routing policy calls for it.
//
// Usage:
//
//	ANTHROPIC_API_KEY=... go run ./cmd/entropy
//	ANTHROPIC_API_KEY=... go run ./cmd/entropy -config entropy.yaml -port 9090
//
// Example requests:
//
//	curl http://localhost:8080/health
//	curl -X POST http://localhost:8080/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "What is AAPL trading at?", "session_id": "demo"}'
//	curl http://localhost:8080/diagnostic/AAPL%20price
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/entropy/services/api"
	"github.com/AleutianAI/entropy/services/config"
	"github.com/AleutianAI/entropy/services/generation"
	"github.com/AleutianAI/entropy/services/llm"
	"github.com/AleutianAI/entropy/services/marketdata"
	"github.com/AleutianAI/entropy/services/retrieval"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := run(*configPath, *port, *debug, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, port int, debug bool, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.ListenAddr = fmt.Sprintf(":%d", port)
	}

	// Fail fast on a missing key: every query needs the model provider.
	generalistProvider, err := llm.NewClient(llm.ModelGeneralist)
	if err != nil {
		return err
	}
	marketProvider, err := llm.NewClient(llm.ModelMarketSpecialist)
	if err != nil {
		return err
	}
	newsProvider, err := llm.NewClient(llm.ModelNewsSpecialist)
	if err != nil {
		return err
	}

	retriever := loadRetriever(cfg, logger)
	market := marketdata.NewService(marketdata.NewYahooClient(), logger)

	generalist := generation.NewAgent("generalist", generalistProvider,
		generation.GeneralistSystemPrompt(), generation.GeneralistTemperature, true,
		generation.GeneralistBelt(retriever, market, cfg.ReadmePath))
	specialists := map[generation.SpecialistKind]*generation.Agent{
		generation.KindMarket: generation.NewAgent("market_specialist", marketProvider,
			generation.MarketSpecialistPrompt(), generation.MarketSpecialistTemperature, false,
			generation.MarketSpecialistBelt(market)),
		generation.KindNews: generation.NewAgent("news_specialist", newsProvider,
			generation.NewsSpecialistPrompt(), generation.NewsSpecialistTemperature, false,
			generation.NewsSpecialistBelt(retriever)),
	}

	orch := generation.NewOrchestrator(generalist, specialists, generation.OrchestratorConfig{
		PoolWorkers:       cfg.Pool.MaxWorkers,
		ResultTTL:         cfg.Pool.ResultTTL(),
		SpecialistTimeout: cfg.Pool.SpecialistTimeout(),
	}, logger)
	defer orch.Shutdown(shutdownGrace)

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}
	api.RegisterRoutes(router, api.NewHandlers(orch, retriever, market, logger))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// loadRetriever loads whichever index artifacts exist. A missing artifact
// degrades the retriever rather than failing startup: the generalist can
// still answer market-data queries with no news corpus at all.
func loadRetriever(cfg *config.Config, logger *slog.Logger) *retrieval.HybridRetriever {
	var lexical *retrieval.LexicalIndex
	var semantic *retrieval.SemanticIndex

	if idx, err := retrieval.LoadLexicalIndex(cfg.Index.LexicalPath); err != nil {
		logger.Warn("lexical index unavailable",
			slog.String("path", cfg.Index.LexicalPath),
			slog.String("error", err.Error()))
	} else {
		lexical = idx
		logger.Info("lexical index loaded", slog.Int("documents", idx.Len()))
	}

	if idx, err := retrieval.LoadSemanticIndex(cfg.Index.SemanticPath, retrieval.NewHashEmbedder()); err != nil {
		logger.Warn("semantic index unavailable",
			slog.String("path", cfg.Index.SemanticPath),
			slog.String("error", err.Error()))
	} else {
		semantic = idx
		logger.Info("semantic index loaded")
	}

	return retrieval.NewHybridRetriever(lexical, semantic, logger)
}
