package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/output"
	"github.com/fathomlabs/fathom/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit         int
	mode          string
	fusion        string
	lexicalWeight float64
	vectorWeight  float64
	format        string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the product index",
		Long: `Search the product index.

By default both channels run and their rankings are fused with
weighted min-max normalization. Use --mode to restrict the search to
one channel, or --fusion rrf for reciprocal rank fusion.

Examples:
  fathom search "wireless headphones"
  fathom search "espresso" --mode lexical --limit 5
  fathom search "gift for a runner" --fusion rrf --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = config default)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, lexical, vector")
	cmd.Flags().StringVar(&opts.fusion, "fusion", "", "Fusion strategy: weighted, rrf")
	cmd.Flags().Float64Var(&opts.lexicalWeight, "lexical-weight", 0, "Override lexical weight for weighted fusion")
	cmd.Flags().Float64Var(&opts.vectorWeight, "vector-weight", 0, "Override vector weight for weighted fusion")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	mode, ok := search.ParseMode(opts.mode)
	if !ok {
		return fmt.Errorf("unknown mode %q (want hybrid, lexical, or vector)", opts.mode)
	}

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	limit := opts.limit
	if limit == 0 {
		limit = a.cfg.Search.DefaultTopK
	}

	searchOpts := search.Options{
		TopK:   limit,
		Mode:   mode,
		Fusion: search.FusionKind(opts.fusion),
	}
	if opts.lexicalWeight > 0 || opts.vectorWeight > 0 {
		searchOpts.Weights = &search.Weights{
			Lexical: opts.lexicalWeight,
			Vector:  opts.vectorWeight,
		}
	}

	results, err := a.engine.Search(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Statusf("", "No results for %q", query)
		return nil
	}

	out.Statusf("", "Found %d results for %q:", len(results), query)
	out.Newline()
	for i, r := range results {
		title := r.ID
		if r.Document != nil {
			title = fmt.Sprintf("%s  %s", r.ID, r.Document.Title)
		}
		out.Resultf(i+1, "%s (score: %.4f)", title, r.Score)
		out.Statusf("", "   channels: %s", channelSummary(r))
		if r.Document != nil && r.Document.Description != "" {
			out.Statusf("", "   %s", truncate(r.Document.Description, 100))
		}
	}
	return nil
}

func channelSummary(r *search.Result) string {
	var parts []string
	if r.MatchedLexical {
		parts = append(parts, fmt.Sprintf("lexical %.3f", r.LexicalScore))
	}
	if r.MatchedVector {
		parts = append(parts, fmt.Sprintf("vector %.3f", r.VectorScore))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
