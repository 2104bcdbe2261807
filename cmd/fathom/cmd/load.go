package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomlabs/fathom/internal/output"
	"github.com/fathomlabs/fathom/internal/store"
)

func newLoadCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Bulk-load product documents from a JSON file",
		Long: `Bulk-load product documents from a JSON file.

The file holds either a JSON array of documents or one JSON document
per line. Documents are embedded in parallel and committed in
batches; failures are reported per document and do not abort the
rest of the load.

Document shape:
  {"id": "prod-1", "title": "Espresso Machine", "description": "...", "metadata": {"brand": "acme"}}

Use "-" to read from stdin:
  cat catalog.jsonl | fathom load -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readDocuments(cmd, args[0])
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no documents found in %s", args[0])
			}

			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			out := output.New(cmd.OutOrStdout())
			var succeeded, failed int
			for start := 0; start < len(docs); start += batchSize {
				end := min(start+batchSize, len(docs))
				result, err := a.coord.BatchCreateOrUpdate(cmd.Context(), docs[start:end])
				if err != nil {
					return err
				}
				succeeded += result.Succeeded
				failed += result.Failed
				for _, item := range result.Items {
					if !item.OK() {
						out.Errorf("%s: %v", item.ID, item.Err)
					}
				}
				out.Progress(end, len(docs), "indexing")
			}
			a.saveSnapshot(cmd.Context())

			out.Newline()
			out.Successf("Loaded %d documents (%d failed)", succeeded, failed)
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(docs))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Documents per commit batch")
	return cmd
}

// readDocuments parses a JSON array or newline-delimited JSON stream.
func readDocuments(cmd *cobra.Command, path string) ([]*store.Document, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var docs []*store.Document
	if err := json.Unmarshal(raw, &docs); err == nil {
		return docs, nil
	}

	// Fall back to one JSON object per line.
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var doc store.Document
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}
