package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag/internal/ingestion"
	"github.com/54b3r/docrag/internal/logging"
)

// NewIngestCmd constructs the `docrag ingest` command, which indexes a local
// file and publishes it as the current knowledge base.
func NewIngestCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Index a document and publish it as the knowledge base",
		Long: `Parse, chunk and embed a document, then publish it as the knowledge base.

The previous knowledge base is replaced but left on disk: a running
'docrag serve' picks the new one up (on its next start, or at once when
watching is enabled) and removes the one it stopped serving.

Text and markdown files are read locally; PDF, DOCX and other formats are
converted through LlamaParse and need LLAMA_CLOUD_API_KEY.

Examples:
  docrag ingest ./handbook.md
  docrag ingest --name "Employee Handbook" ./handbook.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if name == "" {
				name = filepath.Base(path)
			}

			c, err := buildComponents(ctx, log, false)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			res, err := c.pipeline(log, nil).Ingest(ctx, name, path, &ingestion.Reporter{
				Stage: func(st ingestion.State) {
					log.Info("ingest: stage", slog.String("state", string(st)))
				},
				Indexed: func(done, total int) {
					log.Debug("ingest: indexing", slog.Int("done", done), slog.Int("total", total))
				},
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %s: %d nodes from %q\n", res.Generation, res.Nodes, name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Document name recorded with every node (default: file name)")

	return cmd
}
