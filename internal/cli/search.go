package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/bootstrap"
	"github.com/bull/docrag/internal/rag"
)

func newSearchCommand(opts *options) *cobra.Command {
	var (
		topK       int
		documentID string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the passages most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return opts.withApp(cmd, false, func(app *bootstrap.App) error {
				k := topK
				if k == 0 {
					k = app.Config.Search.TopK
				}
				results, err := app.Orchestrator.SearchDocuments(cmd.Context(), query, k, documentID)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, results)
				}

				if len(results) == 0 {
					cmd.Println("No results found.")
					return nil
				}
				for i, r := range results {
					cmd.Printf("  [%d] %s p.%d #%d (%.3f)\n", i+1, r.DocumentID, r.PageNumber, r.ChunkIndex, r.Score)
					cmd.Printf("      %s\n\n", oneLine(r.Text, 160))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages (default from config)")
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "only search this document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func newAskCommand(opts *options) *cobra.Command {
	var (
		topK       int
		maxTokens  int
		documentID string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return opts.withApp(cmd, false, func(app *bootstrap.App) error {
				gen, err := app.RequireGenerator()
				if err != nil {
					return err
				}
				answer := app.Orchestrator.Answer(cmd.Context(), question, gen, rag.AnswerOptions{
					DocumentID: documentID,
					TopK:       topK,
					MaxTokens:  maxTokens,
				})
				if asJSON {
					return printJSON(cmd, answer)
				}

				cmd.Println(answer.Response)
				if len(answer.Sources) > 0 {
					cmd.Println()
					cmd.Println("Sources:")
					for i, s := range answer.Sources {
						cmd.Printf("  [%d] %s p.%d (%.3f) %s\n", i+1, s.DocumentID, s.Page, s.Similarity, oneLine(s.Excerpt, 100))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages used as context (default 5)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum answer length in tokens (default 500)")
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "only use this document as context")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the answer as JSON")
	return cmd
}

// oneLine collapses whitespace and shortens s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
