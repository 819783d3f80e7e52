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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

// EmbeddingDim is the fixed embedding dimension for the semantic index.
// Persisted artifacts encode vectors of this width; the builder and the
// server must agree on it.
const EmbeddingDim = 384

// Embedder produces a dense vector for a piece of text.
//
// Implementations must be deterministic (same text, same vector), return
// exactly EmbeddingDim components, L2-normalized. They must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// =============================================================================
// Feature-hash embedder (offline default)
// =============================================================================

// HashEmbedder is a deterministic feature-hashing embedder.
//
// # Description
//
// Each token is FNV-hashed into one of EmbeddingDim buckets with a ±1 sign
// drawn from a second hash bit, then the vector is L2-normalized. This is
// not a learned embedding — overlapping vocabularies produce nearby
// vectors, which is sufficient for the index to rank topically related
// articles, and it requires no model server. Live deployments substitute
// OllamaEmbedder; both sides of a persisted index must use the same
// embedder.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
type HashEmbedder struct{}

// NewHashEmbedder creates the offline feature-hash embedder.
func NewHashEmbedder() *HashEmbedder { return &HashEmbedder{} }

// Dimension reports EmbeddingDim.
func (e *HashEmbedder) Dimension() int { return EmbeddingDim }

// Embed hashes the text's tokens into a normalized EmbeddingDim vector.
// Empty or all-punctuation text yields the zero vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, EmbeddingDim)
	for _, token := range Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % EmbeddingDim)
		sign := float32(1)
		if (sum>>32)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	normalizeInPlace(vec)
	return vec, nil
}

// =============================================================================
// Ollama embedder (live deployments)
// =============================================================================

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder embeds text through an Ollama /api/embed endpoint.
//
// # Description
//
// Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment with
// local defaults. Returned vectors are L2-normalized and must match
// EmbeddingDim; a model with a different width is a configuration error
// surfaced on the first call.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaEmbedder struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaEmbedder creates an embedder backed by a local Ollama instance.
func NewOllamaEmbedder() *OllamaEmbedder {
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		url = "http://localhost:11434/api/embed"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "all-minilm"
	}
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Dimension reports EmbeddingDim.
func (e *OllamaEmbedder) Dimension() int { return EmbeddingDim }

// Embed calls the Ollama embed endpoint and normalizes the result.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedReq{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("retrieval: marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("retrieval: creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("retrieval: reading embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval: embed endpoint returned status %d", resp.StatusCode)
	}

	var parsed ollamaEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("retrieval: decoding embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("retrieval: embed endpoint returned no embeddings")
	}

	vec := parsed.Embeddings[0]
	if len(vec) != EmbeddingDim {
		return nil, fmt.Errorf("retrieval: embedding dimension mismatch: got %d, want %d", len(vec), EmbeddingDim)
	}
	normalizeInPlace(vec)
	return vec, nil
}

// normalizeInPlace scales a vector to unit length. Zero vectors are left
// unchanged.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
