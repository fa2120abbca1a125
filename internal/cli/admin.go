package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/bootstrap"
)

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document from the index and the chunk store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, true, func(app *bootstrap.App) error {
				res := app.Orchestrator.DeleteDocument(cmd.Context(), args[0])
				if !res.Success {
					return fmt.Errorf("delete failed: %s", res.Error)
				}
				cmd.Printf("Deleted %s: %d chunks, %d vectors\n", res.DocumentID, res.ChunksDeleted, res.VectorsRemoved)
				return nil
			})
		},
	}
}

func newStatsCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index, chunk store and model statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(app *bootstrap.App) error {
				stats, err := app.Orchestrator.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, stats)
				}

				vs := stats.VectorStore
				cmd.Printf("Embedding model: %s (%d dimensions)\n", stats.Embedding.Model, stats.Embedding.Dimension)
				cmd.Printf("Vectors:         %d active, %d deleted, %d total\n", vs.ActiveVectors, vs.DeletedVectors, vs.TotalVectors)
				cmd.Printf("Chunk rows:      %d in %d documents\n", stats.Database.TotalChunks, stats.Database.TotalDocuments)

				ids := make([]string, 0, len(vs.ChunksPerDocument))
				for id := range vs.ChunksPerDocument {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					cmd.Printf("  %-40s %d\n", id, vs.ChunksPerDocument[id])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output statistics as JSON")
	return cmd
}

func newRebuildCommand(opts *options) *cobra.Command {
	var (
		compactOnly bool
		batchSize   int
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the chunk store",
		Long: `Rebuilds the vector index from stored chunk rows, embedding rows that
were stored without a vector. With --compact, only drops deleted entries
from the current index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, true, func(app *bootstrap.App) error {
				if compactOnly {
					stats := app.Orchestrator.CompactIndex()
					cmd.Printf("Compacted index: %d vectors in %d documents\n", stats.TotalVectors, stats.DocumentCount)
					return nil
				}

				res, err := app.Orchestrator.RebuildIndex(cmd.Context(), batchSize)
				if err != nil {
					return err
				}
				cmd.Printf("Rebuilt index: %d vectors from %d rows in %d documents (%.2fs)\n",
					res.VectorsAdded, res.Rows, res.Documents, res.ElapsedSeconds)
				if res.ReEmbedded > 0 {
					cmd.Printf("  Re-embedded %d rows\n", res.ReEmbedded)
				}
				if res.ZeroEmbeddings > 0 {
					cmd.Printf("  %d rows still have no embedding\n", res.ZeroEmbeddings)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&compactOnly, "compact", false, "only drop deleted entries")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "embedding batch size for re-embedded rows")
	return cmd
}
