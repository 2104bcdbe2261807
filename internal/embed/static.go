package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// StaticEmbedder generates embeddings with a hash-based approach.
// It needs no network or model download and is fully deterministic,
// at the cost of semantic quality. Used for offline mode and tests.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// Weights for vector generation. Whole tokens carry most of the
// signal; character trigrams add fuzzy overlap between related words.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// staticTokenRegex matches alphanumeric sequences.
var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates a deterministic embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// generateVector creates a hash-based vector from text.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	lower := strings.ToLower(text)
	tokens := staticTokenRegex.FindAllString(lower, -1)

	for _, token := range tokens {
		vector[hashToIndex(token)] += tokenWeight
	}

	for _, token := range tokens {
		for _, ngram := range extractNgrams(token, ngramSize) {
			vector[hashToIndex(ngram)] += ngramWeight
		}
	}

	return vector
}

// extractNgrams returns character n-grams of the given size.
func extractNgrams(s string, size int) []string {
	if len(s) < size {
		return nil
	}
	ngrams := make([]string, 0, len(s)-size+1)
	for i := 0; i+size <= len(s); i++ {
		ngrams = append(ngrams, s[i:i+size])
	}
	return ngrams
}

// hashToIndex maps a string to a vector index via FNV-1a.
func hashToIndex(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(StaticDimensions))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static-hash-v1"
}

// Available always returns true unless closed.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Verify interface implementation
var _ Embedder = (*StaticEmbedder)(nil)
