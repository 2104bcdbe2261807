package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/output"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id> [id...]",
		Short: "Delete product documents",
		Long: `Delete product documents from the store and both indexes.

Examples:
  fathom delete prod-1
  fathom delete prod-1 prod-2 prod-3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.coord.BatchDelete(cmd.Context(), args)
			if err != nil {
				return err
			}
			a.saveSnapshot(cmd.Context())

			out := output.New(cmd.OutOrStdout())
			for _, item := range result.Items {
				if item.OK() {
					out.Successf("Deleted %s", item.ID)
				} else {
					out.Errorf("%s: %v", item.ID, item.Err)
				}
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d deletes failed", result.Failed, len(result.Items))
			}
			return nil
		},
	}
	return cmd
}
