package embed

import (
	"strings"

	"github.com/fathomlabs/fathom/internal/config"
	ferrors "github.com/fathomlabs/fathom/internal/errors"
)

// NewFromConfig builds the configured embedder, wrapped with LRU
// caching when enabled.
func NewFromConfig(cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch strings.ToLower(cfg.Provider) {
	case "static":
		inner = NewStaticEmbedder()
	case "openai", "":
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			BatchSize:      cfg.BatchSize,
			RequestTimeout: cfg.RequestTimeout,
			Retry: ferrors.RetryConfig{
				MaxRetries:   cfg.Retry.MaxRetries,
				InitialDelay: cfg.Retry.InitialDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
				Multiplier:   cfg.Retry.Multiplier,
				Jitter:       true,
			},
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, ferrors.ConfigError("unknown embeddings provider: "+cfg.Provider, nil)
	}

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
	return inner, nil
}
