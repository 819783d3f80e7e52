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
	"path/filepath"
	"testing"
)

func TestLexicalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexical.idx")

	built := BuildLexicalIndex(testCorpus())
	if err := built.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadLexicalIndex(path)
	if err != nil {
		t.Fatalf("LoadLexicalIndex: %v", err)
	}
	if loaded.Len() != built.Len() {
		t.Fatalf("loaded Len = %d, want %d", loaded.Len(), built.Len())
	}

	queries := []string{"apple earnings", "TSLA", "data center demand", "supply chain"}
	for _, q := range queries {
		want := built.Search(q, 10, nil)
		got := loaded.Search(q, 10, nil)
		if len(got) != len(want) {
			t.Fatalf("query %q: loaded returned %d hits, want %d", q, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("query %q hit %d: %+v, want %+v", q, i, got[i], want[i])
			}
		}
	}

	// Document metadata survives the round trip.
	doc, ok := loaded.Document("doc-nvda-1")
	if !ok {
		t.Fatal("doc-nvda-1 missing after load")
	}
	if doc.Title != "Nvidia data center demand surges" {
		t.Errorf("loaded title = %q", doc.Title)
	}
}

func TestSemanticRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "semantic.idx")

	embedder := NewHashEmbedder()
	built, err := BuildSemanticIndex(ctx, testCorpus(), embedder)
	if err != nil {
		t.Fatalf("BuildSemanticIndex: %v", err)
	}
	if err := built.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadSemanticIndex(path, embedder)
	if err != nil {
		t.Fatalf("LoadSemanticIndex: %v", err)
	}
	if loaded.Len() != built.Len() {
		t.Fatalf("loaded Len = %d, want %d", loaded.Len(), built.Len())
	}

	want := built.Search(ctx, "apple quarterly earnings", 3, nil)
	got := loaded.Search(ctx, "apple quarterly earnings", 3, nil)
	if len(got) != len(want) {
		t.Fatalf("loaded returned %d hits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].DocID != want[i].DocID {
			t.Errorf("hit %d = %s, want %s", i, got[i].DocID, want[i].DocID)
		}
	}

	// Filters survive via the metadata sidecar.
	filtered := loaded.Search(ctx, "quarterly earnings", 5, []string{"AAPL"})
	for _, h := range filtered {
		if h.DocID == "doc-tsla-1" || h.DocID == "doc-nvda-1" {
			t.Errorf("filtered hit %s is not an AAPL document", h.DocID)
		}
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	if _, err := LoadLexicalIndex(filepath.Join(t.TempDir(), "absent.idx")); err == nil {
		t.Error("loading a missing lexical artifact did not fail")
	}
	if _, err := LoadSemanticIndex(filepath.Join(t.TempDir(), "absent.idx"), NewHashEmbedder()); err == nil {
		t.Error("loading a missing semantic artifact did not fail")
	}
}
