package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeBasic(t *testing.T) {
	tokens := Tokenize("Wireless Noise-Cancelling Headphones", 2)
	assert.Equal(t, []string{"wireless", "noise", "cancelling", "headphones"}, tokens)
}

func TestTokenizeMinLength(t *testing.T) {
	tokens := Tokenize("a 4K TV on a stand", 2)
	assert.Equal(t, []string{"4k", "tv", "on", "stand"}, tokens)
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Nil(t, Tokenize("", 2))
	assert.Empty(t, Tokenize("!!! ---", 2))
}

func TestTokenizePunctuationAndNumbers(t *testing.T) {
	tokens := Tokenize("USB-C cable, 2m (black)", 1)
	assert.Equal(t, []string{"usb", "c", "cable", "2m", "black"}, tokens)
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap([]string{"the", "and"})
	tokens := FilterStopWords([]string{"the", "red", "and", "blue"}, stop)
	assert.Equal(t, []string{"red", "blue"}, tokens)
}

func TestFilterStopWordsNilMap(t *testing.T) {
	tokens := []string{"red", "blue"}
	assert.Equal(t, tokens, FilterStopWords(tokens, nil))
}

func TestBuildStopWordMapLowercases(t *testing.T) {
	m := BuildStopWordMap([]string{"The"})
	_, ok := m["the"]
	assert.True(t, ok)
}
