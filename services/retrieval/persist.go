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
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// On-disk artifacts
// =============================================================================
//
// The lexical index persists as one gob file holding the tokenized corpus,
// collection statistics, and the documents themselves. The semantic index
// persists as a paired artifact: the exported HNSW graph plus a gob
// metadata sidecar (<path>.meta) with the id mappings and ticker sets.
// All writes are temp-file + rename so a crashed build never leaves a
// half-written artifact behind.

// lexicalArtifact is the gob wire form of a LexicalIndex.
type lexicalArtifact struct {
	Docs      []lexDocArtifact
	IDF       map[string]float64
	AvgLen    float64
	Documents []Document
}

type lexDocArtifact struct {
	ID      string
	TF      map[string]int
	Len     int
	Tickers []string
}

// Save writes the index to path atomically.
func (idx *LexicalIndex) Save(path string) error {
	art := lexicalArtifact{
		IDF:    idx.idf,
		AvgLen: idx.avgLen,
	}
	for _, d := range idx.docs {
		doc := idx.byID[d.id]
		art.Docs = append(art.Docs, lexDocArtifact{
			ID:      d.id,
			TF:      d.tf,
			Len:     d.len,
			Tickers: doc.Tickers,
		})
		art.Documents = append(art.Documents, doc)
	}
	if err := writeGob(path, art); err != nil {
		return fmt.Errorf("retrieval: saving lexical index: %w", err)
	}
	return nil
}

// LoadLexicalIndex reads a persisted lexical index.
//
// Round-trip guarantee: a loaded index produces identical ranked hits to
// the index it was saved from, for any query.
func LoadLexicalIndex(path string) (*LexicalIndex, error) {
	var art lexicalArtifact
	if err := readGob(path, &art); err != nil {
		return nil, fmt.Errorf("retrieval: loading lexical index: %w", err)
	}

	idx := &LexicalIndex{
		idf:    art.IDF,
		avgLen: art.AvgLen,
		byID:   make(map[string]Document, len(art.Documents)),
	}
	if idx.idf == nil {
		idx.idf = make(map[string]float64)
	}
	for _, d := range art.Documents {
		idx.byID[d.ID] = d
	}
	for _, d := range art.Docs {
		idx.docs = append(idx.docs, lexDoc{
			id:      d.ID,
			tf:      d.TF,
			len:     d.Len,
			tickers: TickerFilter(d.Tickers),
		})
	}
	return idx, nil
}

// Save writes the graph and its metadata sidecar atomically.
func (idx *SemanticIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("retrieval: creating index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("retrieval: creating vector file: %w", err)
	}
	if err := idx.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("retrieval: exporting graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("retrieval: closing vector file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("retrieval: renaming vector file: %w", err)
	}

	meta := semanticMetadata{
		IDMap:   idx.idMap,
		Tickers: idx.tickers,
		NextKey: idx.nextKey,
		Dim:     EmbeddingDim,
	}
	if err := writeGob(path+".meta", meta); err != nil {
		return fmt.Errorf("retrieval: saving semantic metadata: %w", err)
	}
	return nil
}

// LoadSemanticIndex reads a persisted semantic index and binds it to the
// embedder that will serve query-time embeddings. The embedder must be the
// same implementation the artifact was built with, or ranked results are
// meaningless.
func LoadSemanticIndex(path string, embedder Embedder) (*SemanticIndex, error) {
	var meta semanticMetadata
	if err := readGob(path+".meta", &meta); err != nil {
		return nil, fmt.Errorf("retrieval: loading semantic metadata: %w", err)
	}
	if meta.Dim != EmbeddingDim {
		return nil, fmt.Errorf("retrieval: semantic artifact dimension %d, want %d", meta.Dim, EmbeddingDim)
	}

	idx := &SemanticIndex{
		graph:    newSemanticGraph(),
		embedder: embedder,
		idMap:    meta.IDMap,
		keyMap:   make(map[uint64]string, len(meta.IDMap)),
		tickers:  meta.Tickers,
		nextKey:  meta.NextKey,
	}
	for id, key := range meta.IDMap {
		idx.keyMap[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("retrieval: opening vector file: %w", err)
	}
	defer file.Close()

	// Import requires an io.ByteReader.
	if err := idx.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("retrieval: importing graph: %w", err)
	}
	return idx, nil
}

// writeGob gob-encodes v to path via a temp file and rename.
func writeGob(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(v); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encoding: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// readGob gob-decodes path into v.
func readGob(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	return nil
}
