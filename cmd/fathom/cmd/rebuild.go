package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/output"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild both indexes from the document store",
		Long: `Rebuild both indexes from the document store.

Every document is re-embedded and both indexes are reconstructed,
removing any entries whose documents no longer exist. Use this after
changing the embedding model or to recover from index drift that
'fathom check --repair' cannot fix.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Skip snapshot restore: the rebuild replaces the indexes anyway.
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			out := output.New(cmd.OutOrStdout())
			start := time.Now()
			if err := a.coord.Rebuild(cmd.Context()); err != nil {
				return err
			}
			a.saveSnapshot(cmd.Context())

			stats, err := a.engine.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out.Successf("Rebuilt indexes for %d documents in %s",
				stats.Documents, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	return cmd
}
