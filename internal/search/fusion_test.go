package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinMaxNormalize(t *testing.T) {
	norm := minMaxNormalize(map[string]float64{
		"a": 2.0,
		"b": 6.0,
		"c": 4.0,
	})

	assert.InDelta(t, 0.0, norm["a"], 1e-9)
	assert.InDelta(t, 1.0, norm["b"], 1e-9)
	assert.InDelta(t, 0.5, norm["c"], 1e-9)
}

func TestMinMaxNormalizeUniformScores(t *testing.T) {
	norm := minMaxNormalize(map[string]float64{"a": 3.0, "b": 3.0})

	assert.InDelta(t, 1.0, norm["a"], 1e-9)
	assert.InDelta(t, 1.0, norm["b"], 1e-9)
}

func TestMinMaxNormalizeEmpty(t *testing.T) {
	assert.Nil(t, minMaxNormalize(nil))
	assert.Nil(t, minMaxNormalize(map[string]float64{}))
}

// fuseWeighted and fuseRRF bind the two standard channels the way the
// engine does.
func fuseWeighted(lex, vec map[string]float64, w Weights) []*Result {
	results := WeightedFuse([]Channel{
		{Name: ChannelLexical, Weight: w.Lexical, Scores: lex},
		{Name: ChannelVector, Weight: w.Vector, Scores: vec},
	})
	applyChannelViews(results)
	return results
}

func fuseRRF(lex, vec map[string]float64, k int) []*Result {
	results := RRFFuse([]Channel{
		{Name: ChannelLexical, Scores: lex},
		{Name: ChannelVector, Scores: vec},
	}, k)
	applyChannelViews(results)
	return results
}

func TestWeightedFuseBothChannels(t *testing.T) {
	lex := map[string]float64{"a": 10.0, "b": 5.0}
	vec := map[string]float64{"a": 0.9, "c": 0.3}

	results := fuseWeighted(lex, vec, Weights{Lexical: 0.4, Vector: 0.6})
	require.Len(t, results, 3)

	// a: lex norm 1.0, vec norm 1.0 -> 0.4 + 0.6 = 1.0
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.True(t, results[0].MatchedLexical)
	assert.True(t, results[0].MatchedVector)
	assert.InDelta(t, 10.0, results[0].LexicalScore, 1e-9)
	assert.InDelta(t, 0.9, results[0].VectorScore, 1e-9)
}

func TestWeightedFuseAbsentChannelContributesZero(t *testing.T) {
	lex := map[string]float64{"a": 10.0, "b": 5.0}
	vec := map[string]float64{"c": 0.8, "d": 0.2}

	results := fuseWeighted(lex, vec, Weights{Lexical: 0.4, Vector: 0.6})
	require.Len(t, results, 4)

	// Weights are not renormalized: a caps at 0.4, c caps at 0.6.
	byID := make(map[string]*Result)
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.InDelta(t, 0.4, byID["a"].Score, 1e-9)
	assert.InDelta(t, 0.0, byID["b"].Score, 1e-9)
	assert.InDelta(t, 0.6, byID["c"].Score, 1e-9)
	assert.False(t, byID["a"].MatchedVector)
	assert.False(t, byID["c"].MatchedLexical)
}

func TestWeightedFuseTieBreaksByID(t *testing.T) {
	lex := map[string]float64{"zebra": 1.0, "apple": 1.0}

	results := fuseWeighted(lex, nil, DefaultWeights())
	require.Len(t, results, 2)
	assert.Equal(t, "apple", results[0].ID)
	assert.Equal(t, "zebra", results[1].ID)
}

func TestRRFFuse(t *testing.T) {
	lex := map[string]float64{"a": 10.0, "b": 5.0}
	vec := map[string]float64{"b": 0.9, "a": 0.3}

	results := fuseRRF(lex, vec, 60)
	require.Len(t, results, 2)

	// a: lex rank 1, vec rank 2 -> 1/61 + 1/62
	// b: lex rank 2, vec rank 1 -> 1/62 + 1/61
	assert.InDelta(t, 1.0/61+1.0/62, results[0].Score, 1e-12)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-12)
	assert.Equal(t, "a", results[0].ID)
}

func TestRRFFuseMissingChannel(t *testing.T) {
	lex := map[string]float64{"a": 10.0}
	vec := map[string]float64{"a": 0.9, "b": 0.8}

	results := fuseRRF(lex, vec, 60)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0/61+1.0/61, results[0].Score, 1e-12)
	assert.InDelta(t, 1.0/62, results[1].Score, 1e-12)
}

func TestRRFFuseDefaultsConstant(t *testing.T) {
	results := fuseRRF(map[string]float64{"a": 1.0}, nil, 0)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0/61, results[0].Score, 1e-12)
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":         ModeHybrid,
		"hybrid":   ModeHybrid,
		"keyword":  ModeLexical,
		"bm25":     ModeLexical,
		"Lexical":  ModeLexical,
		"semantic": ModeVector,
		"vector":   ModeVector,
	}
	for in, want := range cases {
		got, ok := ParseMode(in)
		require.True(t, ok, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, ok := ParseMode("fuzzy")
	assert.False(t, ok)
}

func TestWeightedFuseVectorWeightMonotonic(t *testing.T) {
	lexical := map[string]float64{"a": 5.0, "b": 2.0}
	vector := map[string]float64{"a": 0.2, "b": 0.9}

	rankOf := func(results []*Result, id string) int {
		for i, r := range results {
			if r.ID == id {
				return i
			}
		}
		t.Fatalf("id %s missing from results", id)
		return -1
	}

	prev := len(lexical)
	for _, vw := range []float64{0.2, 0.6, 1.0, 2.0} {
		results := fuseWeighted(lexical, vector, Weights{Lexical: 0.4, Vector: vw})
		rank := rankOf(results, "b")
		assert.LessOrEqual(t, rank, prev, "vector weight %.1f", vw)
		prev = rank
	}
	// With enough vector weight the vector-dominant doc wins outright.
	results := fuseWeighted(lexical, vector, Weights{Lexical: 0.4, Vector: 2.0})
	assert.Equal(t, "b", results[0].ID)
}

func TestWeightedFuseExtraChannel(t *testing.T) {
	channels := []Channel{
		{Name: ChannelLexical, Weight: 0.4, Scores: map[string]float64{"a": 5.0}},
		{Name: ChannelVector, Weight: 0.4, Scores: map[string]float64{"a": 0.9}},
		{Name: "caption", Weight: 0.2, Scores: map[string]float64{"a": 0.7, "b": 0.1}},
	}

	results := WeightedFuse(channels)
	require.Len(t, results, 2)

	// a: 0.4 + 0.4 + 0.2 (all norms 1.0 with a at the max of each channel)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.7, results[0].Channels["caption"], 1e-9)

	// b appears only in the caption channel, at its min -> 0.0
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.0, results[1].Score, 1e-9)
}
