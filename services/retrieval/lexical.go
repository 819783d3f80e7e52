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
	"math"
	"sort"
	"strings"
)

// =============================================================================
// Lexical Index (Okapi BM25)
// =============================================================================

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	// bm25K1 controls term frequency saturation. Higher = slower saturation.
	// Range [1.2, 2.0] is typical. 1.5 is a robust middle ground.
	bm25K1 = 1.5

	// bm25B controls document length normalization.
	// 0 = no normalization, 1 = full normalization. 0.75 is the standard default.
	bm25B = 0.75
)

// lexDoc holds the BM25 representation of a single article.
type lexDoc struct {
	// id is the document identifier shared with the semantic index.
	id string

	// tf maps each term to its frequency within the document.
	tf map[string]int

	// len is the total token count of the document (not the vocabulary size).
	len int

	// tickers is the uppercase ticker membership set for filtered search.
	tickers map[string]bool
}

// LexicalIndex is an Okapi BM25 ranker over the static news corpus.
//
// # Description
//
// Each article's BM25 document is its ticker symbols concatenated as a
// prefix to title and body before tokenization, so an exact symbol query
// ("NVDA") scores strongly even when the symbol is rare in prose. IDF uses
// Lucene-style add-one smoothing: log((N+1)/(df+1)) + 1.
//
// # Thread Safety
//
// Immutable after construction via BuildLexicalIndex or LoadLexicalIndex.
// Safe for concurrent use without synchronization.
type LexicalIndex struct {
	docs   []lexDoc
	idf    map[string]float64
	avgLen float64

	// byID resolves document metadata for callers that need titles or
	// tickers after ranking (the diagnostic endpoint, tool result payloads).
	byID map[string]Document
}

// BuildLexicalIndex constructs a LexicalIndex from the corpus.
//
// # Inputs
//
//   - corpus: Documents to index. Empty slice returns a valid empty index
//     that answers every query with no hits.
//
// # Outputs
//
//   - *LexicalIndex: The constructed index. Never nil.
func BuildLexicalIndex(corpus []Document) *LexicalIndex {
	idx := &LexicalIndex{
		idf:  make(map[string]float64),
		byID: make(map[string]Document, len(corpus)),
	}
	if len(corpus) == 0 {
		return idx
	}

	totalLen := 0
	df := make(map[string]int)

	for _, d := range corpus {
		doc := buildLexDoc(d)
		idx.docs = append(idx.docs, doc)
		idx.byID[d.ID] = d
		totalLen += doc.len

		for term := range doc.tf {
			df[term]++
		}
	}

	n := len(idx.docs)
	idx.avgLen = float64(totalLen) / float64(n)

	for term, docFreq := range df {
		idx.idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return idx
}

// buildLexDoc tokenizes one article into its BM25 representation.
//
// Ticker symbols are prepended to the text so a bare-symbol query matches
// with full term weight. Term frequency is a true count, not binary
// presence; article bodies are long enough that saturation matters.
func buildLexDoc(d Document) lexDoc {
	raw := strings.Join(d.Tickers, " ") + " " + d.Title + " " + d.Body
	tokens := Tokenize(raw)

	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	return lexDoc{
		id:      d.ID,
		tf:      tf,
		len:     len(tokens),
		tickers: TickerFilter(d.Tickers),
	}
}

// Len reports the number of indexed documents.
func (idx *LexicalIndex) Len() int { return len(idx.docs) }

// Document returns the stored document for an id, if present.
func (idx *LexicalIndex) Document(id string) (Document, bool) {
	d, ok := idx.byID[id]
	return d, ok
}

// Documents returns the full corpus in index order.
func (idx *LexicalIndex) Documents() []Document {
	out := make([]Document, 0, len(idx.docs))
	for _, d := range idx.docs {
		out = append(out, idx.byID[d.id])
	}
	return out
}

// Search returns the top-k BM25 hits for the query.
//
// # Description
//
// When tickers is non-empty, candidates are filtered to documents whose
// ticker set intersects the filter before ranking. Ties are broken by
// ascending document id so ranking is deterministic. An empty query or an
// empty index yields an empty slice, never an error.
//
// # Thread Safety
//
// Safe for concurrent use. Does not modify the index.
func (idx *LexicalIndex) Search(query string, k int, tickers []string) []Hit {
	if query == "" || k <= 0 || len(idx.docs) == 0 {
		return []Hit{}
	}

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return []Hit{}
	}

	filter := TickerFilter(tickers)

	hits := make([]Hit, 0, len(idx.docs))
	for _, doc := range idx.docs {
		if filter != nil && !intersects(doc.tickers, filter) {
			continue
		}
		score := idx.score(queryTerms, doc)
		if score > 0 {
			hits = append(hits, Hit{DocID: doc.id, Score: score})
		}
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

// score computes the raw BM25 score for one (query, doc) pair.
//
//	score = Σ_t idf(t) × (tf × (k1+1)) / (tf + k1 × (1 − b + b × dl/avgdl))
func (idx *LexicalIndex) score(queryTerms []string, doc lexDoc) float64 {
	dl := float64(doc.len)
	lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*dl/idx.avgLen)

	var score float64
	seen := make(map[string]bool, len(queryTerms))
	for _, term := range queryTerms {
		if seen[term] {
			continue
		}
		seen[term] = true

		tf, inDoc := doc.tf[term]
		if !inDoc {
			continue
		}
		termIDF, known := idx.idf[term]
		if !known {
			continue
		}

		tfFloat := float64(tf)
		score += termIDF * (tfFloat * (bm25K1 + 1)) / (tfFloat + lengthNorm)
	}
	return score
}

// intersects reports whether two membership sets share an element.
func intersects(a, b map[string]bool) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}
