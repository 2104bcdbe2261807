//go:build ignore

// Generates a synthetic product catalog for load testing.
// Usage: go run scripts/generate-catalog.go -docs 10000 -output catalog.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
)

var (
	numDocs = flag.Int("docs", 10000, "Number of documents to generate")
	output  = flag.String("output", "catalog.json", "Output file")
	seed    = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var adjectives = []string{
	"compact", "wireless", "ergonomic", "waterproof", "portable",
	"rechargeable", "lightweight", "premium", "foldable", "adjustable",
	"insulated", "stackable", "refurbished", "handmade", "organic",
}

var nouns = []string{
	"espresso machine", "headphones", "running shoes", "desk lamp",
	"water bottle", "backpack", "keyboard", "office chair", "yoga mat",
	"camping stove", "power bank", "coffee grinder", "monitor stand",
	"rain jacket", "dumbbell set",
}

var brands = []string{"acme", "northpeak", "veloce", "brewcraft", "terrafirm", "lumen"}

var categories = []string{"kitchen", "audio", "sports", "office", "outdoor", "fitness"}

type document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	docs := make([]document, *numDocs)
	for i := range docs {
		adj := adjectives[rng.Intn(len(adjectives))]
		noun := nouns[rng.Intn(len(nouns))]
		brand := brands[rng.Intn(len(brands))]
		docs[i] = document{
			ID:          fmt.Sprintf("prod-%06d", i),
			Title:       fmt.Sprintf("%s %s", adj, noun),
			Description: description(rng, adj, noun),
			Metadata: map[string]string{
				"brand":    brand,
				"category": categories[rng.Intn(len(categories))],
				"price":    fmt.Sprintf("%d.%02d", 5+rng.Intn(495), rng.Intn(100)),
			},
		}
	}

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		fmt.Fprintf(os.Stderr, "write catalog: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d documents to %s\n", *numDocs, *output)
}

func description(rng *rand.Rand, adj, noun string) string {
	features := []string{
		"built for daily use",
		"ships with a two year warranty",
		"available in multiple colors",
		"designed for small spaces",
		"tested for durability",
		"made from recycled materials",
	}
	a := features[rng.Intn(len(features))]
	b := features[rng.Intn(len(features))]
	return fmt.Sprintf("A %s %s, %s and %s.", adj, noun, a, b)
}
