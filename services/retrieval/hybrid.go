// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Hybrid Retriever (weighted reciprocal-rank fusion)
// =============================================================================

// RRF fusion constants. The semantic weight reflects a prior offline
// evaluation where dense NDCG@5 substantially exceeded lexical.
const (
	rrfK           = 60
	weightSemantic = 2.0
	weightLexical  = 1.0
)

// fusedHit accumulates weighted contributions during fusion; only the
// semantic rank participates in tie-breaking.
type fusedHit struct {
	docID        string
	score        float64
	semanticRank int // 0 when absent from the semantic list
}

// HybridRetriever fuses the lexical and semantic indexes with weighted RRF.
//
// # Description
//
// Each method's ranked list contributes w_m / (rrfK + rank) per document.
// Both indexes are queried in parallel with kEach = max(2k, 20) and the
// fused list is cut to k. When one index is absent the other's hits are
// returned unchanged (degraded mode); when both are absent the retriever
// logs a warning and returns an empty slice.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying indexes are read-only.
type HybridRetriever struct {
	lexical  *LexicalIndex
	semantic *SemanticIndex
	logger   *slog.Logger
}

// NewHybridRetriever wires the two indexes. Either may be nil.
func NewHybridRetriever(lexical *LexicalIndex, semantic *SemanticIndex, logger *slog.Logger) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{lexical: lexical, semantic: semantic, logger: logger}
}

// Document resolves a document id against the lexical corpus.
func (h *HybridRetriever) Document(id string) (Document, bool) {
	if h.lexical == nil {
		return Document{}, false
	}
	return h.lexical.Document(id)
}

// Ready reports whether at least one index is loaded and non-empty.
func (h *HybridRetriever) Ready() bool {
	return h.lexicalReady() || h.semanticReady()
}

func (h *HybridRetriever) lexicalReady() bool {
	return h.lexical != nil && h.lexical.Len() > 0
}

func (h *HybridRetriever) semanticReady() bool {
	return h.semantic != nil && h.semantic.Len() > 0
}

// Search returns the top-k fused hits for the query.
//
// # Description
//
// Guarantees: result length ≤ k and document ids are unique. Ties in fused
// score are broken by lower semantic rank, then ascending document id.
// Never returns an error; degraded and empty outcomes are signalled by the
// result shape and a warning log.
func (h *HybridRetriever) Search(ctx context.Context, query string, k int, tickers []string) []Hit {
	ctx, span := otel.Tracer("entropy/retrieval").Start(ctx, "HybridRetriever.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieval.k", k),
		attribute.Int("retrieval.filter_size", len(tickers)),
	)

	if query == "" || k <= 0 {
		return []Hit{}
	}

	lexOK, semOK := h.lexicalReady(), h.semanticReady()
	start := time.Now()

	switch {
	case !lexOK && !semOK:
		h.logger.Warn("hybrid search with no indexes loaded")
		searchesTotal.WithLabelValues("none").Inc()
		return []Hit{}

	case lexOK && !semOK:
		searchesTotal.WithLabelValues("lexical_only").Inc()
		return h.lexical.Search(query, k, tickers)

	case !lexOK && semOK:
		searchesTotal.WithLabelValues("semantic_only").Inc()
		return h.semantic.Search(ctx, query, k, tickers)
	}

	kEach := 2 * k
	if kEach < 20 {
		kEach = 20
	}

	var lexHits, semHits []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexHits = h.lexical.Search(query, kEach, tickers)
		return nil
	})
	g.Go(func() error {
		semHits = h.semantic.Search(gctx, query, kEach, tickers)
		return nil
	})
	g.Wait()

	fused := fuse(lexHits, semHits, k)

	searchesTotal.WithLabelValues("hybrid").Inc()
	fusionSeconds.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("retrieval.results", len(fused)))

	return fused
}

// fuse sums weighted reciprocal-rank contributions and cuts to k.
func fuse(lexHits, semHits []Hit, k int) []Hit {
	scores := make(map[string]*fusedHit, len(lexHits)+len(semHits))

	get := func(id string) *fusedHit {
		if f, ok := scores[id]; ok {
			return f
		}
		f := &fusedHit{docID: id}
		scores[id] = f
		return f
	}

	for _, hit := range lexHits {
		f := get(hit.DocID)
		f.score += weightLexical / float64(rrfK+hit.Rank)
	}
	for _, hit := range semHits {
		f := get(hit.DocID)
		f.semanticRank = hit.Rank
		f.score += weightSemantic / float64(rrfK+hit.Rank)
	}

	all := make([]*fusedHit, 0, len(scores))
	for _, f := range scores {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.score != b.score {
			return a.score > b.score
		}
		// A missing semantic rank sorts after any present rank.
		ar, br := a.semanticRank, b.semanticRank
		if ar == 0 {
			ar = int(^uint(0) >> 1)
		}
		if br == 0 {
			br = int(^uint(0) >> 1)
		}
		if ar != br {
			return ar < br
		}
		return a.docID < b.docID
	})

	if len(all) > k {
		all = all[:k]
	}
	out := make([]Hit, len(all))
	for i, f := range all {
		out[i] = Hit{DocID: f.docID, Score: f.score, Rank: i + 1}
	}
	return out
}
