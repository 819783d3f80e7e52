// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command entropy-index builds the retrieval artifacts from a JSON news
// corpus.
//
// The corpus is a JSON array of articles:
//
//	[
//	  {
//	    "id": "a1",
//	    "title": "Apple beats on earnings",
//	    "body": "...",
//	    "published_at": "2025-06-03T14:00:00Z",
//	    "tickers": ["AAPL"],
//	    "publisher": "Newswire",
//	    "link": "https://..."
//	  }
//	]
//
// Articles without an id get a generated UUID. Both the lexical (BM25)
// and semantic (HNSW) artifacts are written; the server loads them
// read-only at startup.
//
// Usage:
//
//	go run ./cmd/entropy-index --corpus articles.json --out data/
//	go run ./cmd/entropy-index --corpus articles.json --out data/ --embedder ollama
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/entropy/services/retrieval"
)

func main() {
	var (
		corpusPath   string
		outDir       string
		embedderKind string
	)

	root := &cobra.Command{
		Use:   "entropy-index",
		Short: "Build the ENTROPY retrieval artifacts from a JSON news corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildIndexes(cmd.Context(), corpusPath, outDir, embedderKind)
		},
	}
	root.Flags().StringVar(&corpusPath, "corpus", "", "Path to the JSON corpus file (required)")
	root.Flags().StringVar(&outDir, "out", "data", "Output directory for index artifacts")
	root.Flags().StringVar(&embedderKind, "embedder", "hash", "Embedder backend: hash or ollama")
	_ = root.MarkFlagRequired("corpus")

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Error("index build failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func buildIndexes(ctx context.Context, corpusPath, outDir, embedderKind string) error {
	start := time.Now()

	corpus, err := loadCorpus(corpusPath)
	if err != nil {
		return err
	}
	slog.Info("corpus loaded",
		slog.String("path", corpusPath),
		slog.Int("documents", len(corpus)))

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	embedder, err := pickEmbedder(embedderKind)
	if err != nil {
		return err
	}

	lexical := retrieval.BuildLexicalIndex(corpus)
	lexicalPath := filepath.Join(outDir, "lexical.idx")
	if err := lexical.Save(lexicalPath); err != nil {
		return fmt.Errorf("saving lexical index: %w", err)
	}
	slog.Info("lexical index written", slog.String("path", lexicalPath))

	semantic, err := retrieval.BuildSemanticIndex(ctx, corpus, embedder)
	if err != nil {
		return fmt.Errorf("building semantic index: %w", err)
	}
	semanticPath := filepath.Join(outDir, "semantic.idx")
	if err := semantic.Save(semanticPath); err != nil {
		return fmt.Errorf("saving semantic index: %w", err)
	}
	slog.Info("semantic index written", slog.String("path", semanticPath))

	slog.Info("index build complete",
		slog.Int("documents", len(corpus)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func loadCorpus(path string) ([]retrieval.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}

	var corpus []retrieval.Document
	if err := json.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("corpus %s contains no documents", path)
	}

	seen := make(map[string]bool, len(corpus))
	for i := range corpus {
		if corpus[i].ID == "" {
			corpus[i].ID = uuid.NewString()
		}
		if seen[corpus[i].ID] {
			return nil, fmt.Errorf("duplicate document id %q", corpus[i].ID)
		}
		seen[corpus[i].ID] = true
		if len(corpus[i].Tickers) == 0 {
			slog.Warn("document has no tickers; it will never match filtered searches",
				slog.String("id", corpus[i].ID),
				slog.String("title", corpus[i].Title))
		}
	}
	return corpus, nil
}

func pickEmbedder(kind string) (retrieval.Embedder, error) {
	switch kind {
	case "hash":
		return retrieval.NewHashEmbedder(), nil
	case "ollama":
		return retrieval.NewOllamaEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q (want hash or ollama)", kind)
	}
}
