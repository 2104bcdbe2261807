package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/output"
	"github.com/fathomlabs/fathom/internal/store"
)

func newPutCmd() *cobra.Command {
	var (
		title       string
		description string
		meta        []string
	)

	cmd := &cobra.Command{
		Use:   "put <id>",
		Short: "Create or update a product document",
		Long: `Create or update a product document.

The document is embedded and written to the document store, the
keyword index and the vector index in one atomic step. Re-running
with the same id replaces the document and bumps its version.

Examples:
  fathom put prod-1 --title "Espresso Machine" --description "dual boiler, PID control"
  fathom put prod-2 --title "Trail Shoes" --meta brand=acme --meta color=red`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			doc := &store.Document{
				ID:          args[0],
				Title:       title,
				Description: description,
				Metadata:    metadata,
			}
			if err := a.coord.CreateOrUpdate(cmd.Context(), doc); err != nil {
				return err
			}
			a.saveSnapshot(cmd.Context())

			out := output.New(cmd.OutOrStdout())
			out.Successf("Indexed %s (version %d)", doc.ID, doc.Version)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Product title (required)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Product description")
	cmd.Flags().StringSliceVar(&meta, "meta", nil, "Metadata as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}
