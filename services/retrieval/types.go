// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements the hybrid news-retrieval engine: a BM25
// lexical index, an HNSW semantic index over dense embeddings, and a
// weighted reciprocal-rank-fusion layer that merges them.
//
// Indexes are built offline (cmd/entropy-index) and loaded read-only at
// startup; after load every type in this package is safe for concurrent use.
package retrieval

import (
	"strings"
	"time"
	"unicode"
)

// Document is one immutable news article in the corpus.
//
// Documents are shared across both indexes by ID. A document belongs to at
// least one ticker; the ticker set drives filtered searches.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	Tickers     []string  `json:"tickers"`
	Publisher   string    `json:"publisher"`
	Link        string    `json:"link"`
}

// HasAnyTicker reports whether the document's ticker set intersects the
// filter. An empty filter matches every document.
func (d *Document) HasAnyTicker(filter map[string]bool) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range d.Tickers {
		if filter[strings.ToUpper(t)] {
			return true
		}
	}
	return false
}

// Hit is one ranked retrieval result.
//
// Scores are method-local: a BM25 score and a cosine score are not
// comparable, and neither is comparable to a fused RRF score. Rank is
// 1-indexed within the producing method.
type Hit struct {
	DocID string  `json:"document_id"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// TickerFilter normalizes a ticker slice into an uppercase membership set.
// Nil or empty input yields a nil set (no filtering).
func TickerFilter(tickers []string) map[string]bool {
	if len(tickers) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			set[t] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// Tokenize lowercases the input and splits it on runs of non-alphanumeric
// runes. No stemming, no stop-word removal. Both indexes and the offline
// builder share this function; changing it invalidates persisted artifacts.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
