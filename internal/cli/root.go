// Package cli implements the docrag command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/bootstrap"
	"github.com/bull/docrag/internal/config"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	verbose    bool
}

// NewRootCommand builds the docrag command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "docrag",
		Short: "Ask questions about your own documents",
		Long: `docrag chunks and embeds documents into a vector index and answers
questions using only the retrieved passages.

Settings come from an optional YAML file (--config) and environment
variables such as DOCRAG_EMBEDDING_PROVIDER, OPENAI_API_KEY, QDRANT_HOST
and DOCRAG_STORAGE_DRIVER. The index snapshot is loaded before every
command and saved after commands that change it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newIngestCommand(opts),
		newSearchCommand(opts),
		newAskCommand(opts),
		newDeleteCommand(opts),
		newStatsCommand(opts),
		newRebuildCommand(opts),
		newSyncCommand(opts),
	)
	return root
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// withApp loads config, builds the application and runs fn. When save is set
// and fn succeeds, the index snapshot is written afterwards.
func (o *options) withApp(cmd *cobra.Command, save bool, fn func(*bootstrap.App) error) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	logger := o.logger(cmd)

	app, err := bootstrap.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := fn(app); err != nil {
		return err
	}
	if save {
		if err := app.SaveSnapshot(); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
