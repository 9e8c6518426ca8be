package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mastodon-archiver",
		Short: "Archive Mastodon favourites and bookmarks locally",
		Long: `mastodon-archiver copies the favourites and bookmarks of a Mastodon
account into a local archive: one JSON record per post, downloaded media and
a SQLite (or PostgreSQL) index. Runs are incremental and safe to repeat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newShowCmd(opts),
		newTokenCmd(opts),
	)

	return cmd
}
