package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/bootstrap"
	ghclient "github.com/bull/docrag/internal/github"
)

func newSyncCommand(opts *options) *cobra.Command {
	var (
		extensions []string
		prune      bool
	)

	cmd := &cobra.Command{
		Use:   "sync <owner/repo[/path][@ref]>",
		Short: "Ingest every document of a GitHub directory",
		Long: `Fetches every matching file below a GitHub repository directory and
ingests it as document owner/repo/path/file, with the file path, URL and
commit SHA as metadata.

Environment variables:
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := ghclient.ParseRepo(args[0])
			if err != nil {
				return err
			}

			return opts.withApp(cmd, true, func(app *bootstrap.App) error {
				client, err := ghclient.NewClient(app.Config.GitHub.Token)
				if err != nil {
					return err
				}
				fetcher := ghclient.NewFetcher(client, repo, extensions...)
				syncer := ghclient.NewSyncer(fetcher, app.Orchestrator, app.Config.Embedding.Dispatch.BatchSize, opts.logger(cmd))

				cmd.Printf("Syncing %s...\n", repo)
				result, err := syncer.Sync(cmd.Context(), prune)
				if err != nil {
					return err
				}

				cmd.Println()
				cmd.Println("Sync complete!")
				cmd.Printf("  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
				cmd.Printf("  Chunks: %d\n", result.TotalChunks)
				if prune {
					cmd.Printf("  Removed: %d\n", result.RemovedDocs)
				}
				cmd.Printf("  Duration: %s\n", result.Duration.Round(time.Second))
				cmd.Printf("  Commit: %s\n", result.CommitSHA)

				if len(result.FailedDocs) > 0 {
					cmd.Println()
					cmd.Println("Failed documents:")
					for _, failed := range result.FailedDocs {
						cmd.Printf("  - %s: %s\n", failed.Path, failed.Reason)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&extensions, "ext", ghclient.DefaultExtensions, "file extensions to ingest")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete previously synced documents that no longer exist upstream")
	return cmd
}
