package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/output"
)

func newCheckCmd() *cobra.Command {
	var (
		repair     bool
		quick      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check index consistency",
		Long: `Check that the document store and both indexes agree on
membership. With --repair, orphaned index entries are removed and
missing ones are re-embedded and reinserted.

Exit status is non-zero when drift is found and not repaired.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			out := output.New(cmd.OutOrStdout())

			if quick {
				if err := a.coord.QuickCheck(cmd.Context()); err != nil {
					return err
				}
				out.Success("Store counts agree")
				return nil
			}

			report, err := a.coord.CheckConsistency(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				out.Statusf("", "Documents: %d", report.Documents)
				if report.Consistent() {
					out.Success("Indexes are consistent")
				} else {
					out.Warningf("Found %d drifted entries", report.DriftCount())
					printDrift(out, "missing from keyword index", report.MissingLexical)
					printDrift(out, "missing from vector index", report.MissingVector)
					printDrift(out, "orphaned in keyword index", report.OrphanLexical)
					printDrift(out, "orphaned in vector index", report.OrphanVector)
				}
			}

			if report.Consistent() {
				return nil
			}
			if !repair {
				return fmt.Errorf("index drift detected (%d entries); run 'fathom check --repair'", report.DriftCount())
			}

			if err := a.coord.Repair(cmd.Context(), report); err != nil {
				return err
			}
			a.saveSnapshot(cmd.Context())
			out.Successf("Repaired %d entries", report.DriftCount())
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Repair detected drift")
	cmd.Flags().BoolVar(&quick, "quick", false, "Compare store counts only")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}

func printDrift(out *output.Writer, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	out.Statusf("", "  %s: %d", label, len(ids))
	const maxShown = 10
	for i, id := range ids {
		if i == maxShown {
			out.Statusf("", "    ... and %d more", len(ids)-maxShown)
			break
		}
		out.Statusf("", "    %s", id)
	}
}
