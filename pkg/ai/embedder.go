package ai

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
)

// EmbeddingDim is the fixed dimensionality of all stored vectors. It must
// match the vector column in the chunk table, so changing it requires a
// re-index of every document.
const EmbeddingDim = 1536

// Embedder turns text into a fixed-length vector. Implementations must
// never fail outward: retrieval degrades rather than blocking a chat turn
// or document processing.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// OllamaEmbedder wraps Ollama embedding calls with a fixed model and
// dimension, falling back to a deterministic local vector when the
// inference endpoint is unreachable or answers garbage.
type OllamaEmbedder struct {
	client *OllamaClient
	model  string
}

// NewOllamaEmbedder builds the primary embedder backed by Ollama.
func NewOllamaEmbedder(client *OllamaClient, model string) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model}
}

// Embed returns an embedding for text. Network errors, non-success
// statuses, and malformed payloads all fall through to FallbackEmbed.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) []float32 {
	vec, err := e.client.EmbedText(ctx, e.model, text, EmbeddingDim)
	if err != nil || len(vec) != EmbeddingDim {
		if err != nil {
			slog.Debug("embedding endpoint unavailable, using fallback", "err", err)
		}
		return FallbackEmbed(text)
	}
	return vec
}

// FallbackEmbed produces a deterministic bag-of-words signature vector.
// It is a crude coarse-recall signal, not a semantic embedding; the
// permissive retrieval threshold accounts for that.
//
// Terms are the whitespace-separated tokens of the lower-cased text. Each
// term's frequency is folded into the slot at its sorted-rank mod
// EmbeddingDim; collisions accumulate. The result is L2-normalized.
func FallbackEmbed(text string) []float32 {
	vec := make([]float32, EmbeddingDim)
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return vec
	}

	freq := make(map[string]int, len(terms))
	for _, term := range terms {
		freq[term]++
	}
	unique := make([]string, 0, len(freq))
	for term := range freq {
		unique = append(unique, term)
	}
	sort.Strings(unique)

	for rank, term := range unique {
		vec[rank%EmbeddingDim] += float32(freq[term])
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
