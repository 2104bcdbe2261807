package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches alphanumeric runs. Everything else is a separator.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// Tokenize lowercases text and splits it into alphanumeric tokens,
// dropping tokens shorter than minLength.
func Tokenize(text string, minLength int) []string {
	if text == "" {
		return nil
	}

	matches := tokenRegex.FindAllString(strings.ToLower(text), -1)
	if minLength <= 1 {
		return matches
	}

	tokens := make([]string, 0, len(matches))
	for _, t := range matches {
		if len(t) >= minLength {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// BuildStopWordMap converts a stop word list to a lookup map.
func BuildStopWordMap(words []string) map[string]struct{} {
	if len(words) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// FilterStopWords removes stop words from a token slice.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	if len(stopWords) == 0 {
		return tokens
	}
	filtered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := stopWords[t]; !ok {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
