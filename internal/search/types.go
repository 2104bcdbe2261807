// Package search implements hybrid product search: BM25 lexical
// scoring and vector similarity fused into a single ranking.
package search

import (
	"strings"
	"time"

	"github.com/fathomlabs/fathom/internal/store"
)

// Mode selects which channels participate in a search.
type Mode string

const (
	// ModeHybrid combines lexical and vector channels (default).
	ModeHybrid Mode = "hybrid"
	// ModeLexical uses BM25 keyword matching only.
	ModeLexical Mode = "lexical"
	// ModeVector uses embedding similarity only.
	ModeVector Mode = "vector"
)

// ParseMode parses a mode string, accepting common aliases.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hybrid":
		return ModeHybrid, true
	case "lexical", "keyword", "bm25":
		return ModeLexical, true
	case "vector", "semantic":
		return ModeVector, true
	default:
		return "", false
	}
}

// FusionKind selects the score fusion strategy.
type FusionKind string

const (
	// FusionWeighted min-max normalizes each channel and combines with
	// configured weights.
	FusionWeighted FusionKind = "weighted"
	// FusionRRF combines channels by reciprocal rank.
	FusionRRF FusionKind = "rrf"
)

// Weights controls the relative contribution of each channel in
// weighted fusion. Weights are used as-is and are not renormalized
// when a channel returns nothing.
type Weights struct {
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
}

// DefaultWeights favors the vector channel.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.4, Vector: 0.6}
}

// Options configures a single search request.
type Options struct {
	// TopK is the maximum number of results. Values below 1 are
	// rejected; the caller resolves its own default.
	TopK int
	// Mode selects the participating channels. Empty means hybrid.
	Mode Mode
	// Weights overrides the engine default for weighted fusion.
	Weights *Weights
	// Fusion overrides the engine default fusion strategy.
	Fusion FusionKind
}

// Names of the two standard fusion channels. Additional channels
// (image or caption embeddings, say) fuse through the same mechanism
// under their own names.
const (
	ChannelLexical = "lexical"
	ChannelVector  = "vector"
)

// Result is a single ranked search hit.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`

	// Channels holds the raw pre-normalization score per channel the
	// document appeared in.
	Channels map[string]float64 `json:"channels,omitempty"`

	// Convenience views of the two standard channels, derived from
	// Channels. Meaningful only when the Matched flag is set.
	LexicalScore float64 `json:"lexical_score"`
	VectorScore  float64 `json:"vector_score"`

	MatchedLexical bool `json:"matched_lexical"`
	MatchedVector  bool `json:"matched_vector"`

	// Document is the stored document, populated after ranking.
	Document *store.Document `json:"document,omitempty"`
}

// EngineConfig configures the hybrid search engine.
type EngineConfig struct {
	MaxTopK        int
	DefaultWeights Weights
	Fusion         FusionKind
	RRFConstant    int
	// Timeout bounds a single search operation. 0 disables.
	Timeout time.Duration
}

// DefaultConfig returns production-ready engine configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		MaxTopK:        100,
		DefaultWeights: DefaultWeights(),
		Fusion:         FusionWeighted,
		RRFConstant:    DefaultRRFConstant,
		Timeout:        10 * time.Second,
	}
}
