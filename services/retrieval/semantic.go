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
	"fmt"
	"sort"

	"github.com/coder/hnsw"
)

// =============================================================================
// Semantic Index (HNSW over dense embeddings)
// =============================================================================

// semanticOverfetchFloor is the minimum candidate pool drawn from the graph
// before a ticker filter is applied, preserving recall for narrow filters.
const semanticOverfetchFloor = 50

// SemanticIndex is a dense-embedding ranker backed by an HNSW graph.
//
// # Description
//
// Document embeddings come from a pluggable Embedder (fixed dimension,
// deterministic, L2-normalized); similarity is cosine. Document ids are
// mapped to internal uint64 keys for the graph. When a ticker filter is
// applied, max(k*10, 50) candidates are drawn before filtering.
//
// # Thread Safety
//
// Read-only after construction via BuildSemanticIndex or LoadSemanticIndex.
// Safe for concurrent use.
type SemanticIndex struct {
	graph    *hnsw.Graph[uint64]
	embedder Embedder

	idMap   map[string]uint64 // document id -> graph key
	keyMap  map[uint64]string // graph key -> document id
	tickers map[string]map[string]bool
	nextKey uint64
}

// semanticMetadata is the gob-persisted companion to the exported graph.
type semanticMetadata struct {
	IDMap   map[string]uint64
	Tickers map[string]map[string]bool
	NextKey uint64
	Dim     int
}

func newSemanticGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// BuildSemanticIndex embeds the corpus and constructs the ANN graph.
//
// # Inputs
//
//   - ctx: Cancels embedding calls mid-build.
//   - corpus: Documents to index. Empty slice returns a valid empty index.
//   - embedder: Must produce EmbeddingDim-wide normalized vectors.
//
// # Outputs
//
//   - *SemanticIndex: The constructed index.
//   - error: Non-nil when an embedding call fails; the index is not usable.
func BuildSemanticIndex(ctx context.Context, corpus []Document, embedder Embedder) (*SemanticIndex, error) {
	idx := &SemanticIndex{
		graph:    newSemanticGraph(),
		embedder: embedder,
		idMap:    make(map[string]uint64, len(corpus)),
		keyMap:   make(map[uint64]string, len(corpus)),
		tickers:  make(map[string]map[string]bool, len(corpus)),
	}

	for _, d := range corpus {
		vec, err := embedder.Embed(ctx, d.Title+" "+d.Body)
		if err != nil {
			return nil, fmt.Errorf("retrieval: embedding document %s: %w", d.ID, err)
		}

		key := idx.nextKey
		idx.nextKey++
		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[d.ID] = key
		idx.keyMap[key] = d.ID
		idx.tickers[d.ID] = TickerFilter(d.Tickers)
	}

	return idx, nil
}

// Len reports the number of indexed documents.
func (idx *SemanticIndex) Len() int { return len(idx.idMap) }

// Search returns the top-k nearest documents to the query embedding.
//
// # Description
//
// The query is embedded, the graph is probed for max(k*10, 50) candidates
// when a filter is set (k otherwise), filtered, and re-ranked by cosine
// score descending with ascending document id breaking ties. An empty
// query, an embedding failure, or an empty index yields an empty slice.
func (idx *SemanticIndex) Search(ctx context.Context, query string, k int, tickers []string) []Hit {
	if query == "" || k <= 0 || idx.graph.Len() == 0 {
		return []Hit{}
	}

	vec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return []Hit{}
	}

	filter := TickerFilter(tickers)
	fetch := k
	if filter != nil {
		fetch = k * 10
		if fetch < semanticOverfetchFloor {
			fetch = semanticOverfetchFloor
		}
	}
	if fetch > idx.graph.Len() {
		fetch = idx.graph.Len()
	}

	nodes := idx.graph.Search(vec, fetch)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := idx.keyMap[node.Key]
		if !ok {
			continue
		}
		if filter != nil && !intersects(idx.tickers[id], filter) {
			continue
		}
		// Cosine distance in [0,2]; fold to a similarity score in [0,1].
		distance := idx.graph.Distance(vec, node.Value)
		hits = append(hits, Hit{DocID: id, Score: float64(1.0 - distance/2.0)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}
