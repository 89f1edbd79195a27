package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag/internal/engine"
	"github.com/54b3r/docrag/internal/logging"
)

// NewAskCmd constructs the `docrag ask` command, which answers one question
// from the published knowledge base and exits.
func NewAskCmd() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the published knowledge base",
		Long: `Answer a single question from the most recently ingested document.

Examples:
  docrag ask "How many vacation days do new employees get?"
  docrag ask --sources "Who approves expense reports?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			c, err := buildComponents(ctx, log, true)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			handle := engine.NewHandle(c.loader, c.layout)
			defer handle.Close()
			if err := handle.Reload(ctx); err != nil {
				if errors.Is(err, engine.ErrNoKnowledgeBase) {
					return fmt.Errorf("ask: no document has been ingested yet, run 'docrag ingest <file>' first")
				}
				return fmt.Errorf("ask: %w", err)
			}

			ans, err := handle.Query(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			printAnswer(cmd.OutOrStdout(), ans, showSources)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the supporting passages after the answer")

	return cmd
}

// printAnswer writes the answer and, optionally, its numbered sources.
func printAnswer(w io.Writer, ans *engine.Answer, showSources bool) {
	fmt.Fprintln(w, ans.Text)
	if !showSources || len(ans.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, src := range ans.Sources {
		fmt.Fprintf(w, "  [%d] (%.3f) %s\n", i+1, src.Score, src.Text)
	}
}
