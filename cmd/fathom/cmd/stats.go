package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/output"
	"github.com/fathomlabs/fathom/internal/store"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.engine.Stats(cmd.Context())
			if err != nil {
				return err
			}

			type statsReport struct {
				Documents int    `json:"documents"`
				Lexical   int    `json:"lexical"`
				Vector    int    `json:"vector"`
				InSync    bool   `json:"in_sync"`
				Model     string `json:"model"`
				GraphSize int    `json:"graph_size,omitempty"`
				Orphans   int    `json:"orphans,omitempty"`
			}
			report := statsReport{
				Documents: stats.Documents,
				Lexical:   stats.Lexical,
				Vector:    stats.Vector,
				InSync:    stats.InSync(),
				Model:     a.engine.Embedder().ModelName(),
			}
			if hnsw, ok := a.engine.VectorStore().(*store.HNSWIndex); ok {
				hs := hnsw.Stats()
				report.GraphSize = hs.GraphNodes
				report.Orphans = hs.Orphans
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			out := output.New(cmd.OutOrStdout())
			out.Statusf("", "Documents:       %d", report.Documents)
			out.Statusf("", "Keyword index:   %d", report.Lexical)
			out.Statusf("", "Vector index:    %d (graph %d, orphans %d)", report.Vector, report.GraphSize, report.Orphans)
			out.Statusf("", "Embedding model: %s", report.Model)
			if report.InSync {
				out.Success("Indexes in sync")
			} else {
				out.Warning("Index counts diverged; run 'fathom check'")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output stats as JSON")
	return cmd
}
