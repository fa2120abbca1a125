package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/bootstrap"
	"github.com/bull/docrag/internal/document"
)

func newIngestCommand(opts *options) *cobra.Command {
	var (
		text      string
		format    string
		batchSize int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <document-id> [path|-]",
		Short: "Chunk, embed and index a document",
		Long: `Ingests a .txt or .md file, standard input ("-") or --text under the
given document id. Ingesting an existing id replaces its passages.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := ingestSource(cmd, args, text, format)
			if err != nil {
				return err
			}

			return opts.withApp(cmd, true, func(app *bootstrap.App) error {
				res := app.Orchestrator.ProcessDocument(cmd.Context(), args[0], src, batchSize)
				if asJSON {
					if err := printJSON(cmd, res); err != nil {
						return err
					}
				} else if res.Success {
					cmd.Printf("Indexed %s: %d chunks, %d vectors (%.2fs)\n",
						res.DocumentID, res.ChunksCreated, res.VectorsAdded, res.ElapsedSeconds)
					if res.VectorsReplaced > 0 {
						cmd.Printf("  Replaced %d previous vectors\n", res.VectorsReplaced)
					}
					if res.ZeroEmbeddings > 0 {
						cmd.Printf("  %d passages could not be embedded; run 'docrag rebuild' later\n", res.ZeroEmbeddings)
					}
				}
				if !res.Success {
					return fmt.Errorf("ingest failed at %s stage: %s", res.FailedStage, res.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "document text (instead of a path)")
	cmd.Flags().StringVar(&format, "format", "", "source format: text or markdown (default: from file extension)")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "embedding batch size (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the result as JSON")
	return cmd
}

func ingestSource(cmd *cobra.Command, args []string, text, format string) (document.Source, error) {
	switch {
	case len(args) == 2 && text != "":
		return document.Source{}, errors.New("give either a path or --text, not both")
	case len(args) == 2 && args[1] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return document.Source{}, fmt.Errorf("read stdin: %w", err)
		}
		return document.Source{Text: string(data), Format: format}, nil
	case len(args) == 2:
		return document.Source{Path: args[1], Format: format}, nil
	case text != "":
		return document.Source{Text: text, Format: format}, nil
	default:
		return document.Source{}, errors.New("nothing to ingest: give a path, - for stdin, or --text")
	}
}
