package search

import "sort"

// minMaxNormalize rescales scores to [0,1] over the documents present
// in the channel. A channel where every score is equal normalizes to
// 1.0 so a lone hit still contributes its full weight.
func minMaxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return nil
	}

	first := true
	var minScore, maxScore float64
	for _, s := range scores {
		if first {
			minScore, maxScore = s, s
			first = false
			continue
		}
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	normalized := make(map[string]float64, len(scores))
	spread := maxScore - minScore
	for id, s := range scores {
		if spread == 0 {
			normalized[id] = 1.0
		} else {
			normalized[id] = (s - minScore) / spread
		}
	}
	return normalized
}

// Channel is one named score source entering fusion. The engine
// registers lexical and vector; any further embedding source fuses by
// adding another entry. Weight applies to weighted fusion only.
type Channel struct {
	Name   string
	Weight float64
	Scores map[string]float64
}

// WeightedFuse min-max normalizes each channel independently and sums
// weight*normalized per channel. A document absent from a channel
// contributes zero for that channel. Ties break by ascending document
// ID for deterministic ordering.
func WeightedFuse(channels []Channel) []*Result {
	results := make(map[string]*Result)
	for _, ch := range channels {
		norm := minMaxNormalize(ch.Scores)
		for id, raw := range ch.Scores {
			r := fusedResult(results, id)
			r.Score += ch.Weight * norm[id]
			r.Channels[ch.Name] = raw
		}
	}
	return sortResults(results)
}

// RRFFuse combines channels by reciprocal rank: each channel is
// ranked by descending score and a document scores 1/(k+rank) per
// channel it appears in. Documents absent from a channel receive no
// contribution from it. Channel weights are ignored.
func RRFFuse(channels []Channel, k int) []*Result {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	results := make(map[string]*Result)
	for _, ch := range channels {
		ranks := rankByScore(ch.Scores)
		for id, rank := range ranks {
			r := fusedResult(results, id)
			r.Score += 1.0 / float64(k+rank)
			r.Channels[ch.Name] = ch.Scores[id]
		}
	}
	return sortResults(results)
}

func fusedResult(results map[string]*Result, id string) *Result {
	r, ok := results[id]
	if !ok {
		r = &Result{ID: id, Channels: make(map[string]float64, 2)}
		results[id] = r
	}
	return r
}

// DefaultRRFConstant is the standard smoothing constant for
// reciprocal rank fusion.
const DefaultRRFConstant = 60

// rankByScore assigns 1-based ranks by descending score, breaking
// ties by ascending document ID.
func rankByScore(scores map[string]float64) map[string]int {
	if len(scores) == 0 {
		return nil
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	ranks := make(map[string]int, len(ids))
	for i, id := range ids {
		ranks[id] = i + 1
	}
	return ranks
}

func sortResults(byID map[string]*Result) []*Result {
	out := make([]*Result, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
