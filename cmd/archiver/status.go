package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mastodon_archiver/internal/config"
	"mastodon_archiver/internal/domain"
	"mastodon_archiver/internal/storage/sqlstore"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show archive contents and sync cursors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root, false)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := openIndex(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			cursors, err := sqlstore.NewCursorStore(db).List(ctx)
			if err != nil {
				return err
			}
			stats, err := sqlstore.NewPostStore(db).Stats(ctx)
			if err != nil {
				return err
			}

			return printStatus(cmd.OutOrStdout(), cfg.Archive.Dir, cursors, stats)
		},
	}
}

// openIndex opens the archive database for read-only commands. The schema is
// created on a new archive so that they report an empty archive.
func openIndex(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db, zerolog.Nop()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive database: %w", err)
	}
	return db, nil
}

func printStatus(out io.Writer, dir string, cursors []domain.SyncCursor, stats *sqlstore.Stats) error {
	byCollection := make(map[domain.Collection]domain.SyncCursor, len(cursors))
	for _, c := range cursors {
		byCollection[c.Collection] = c
	}

	fmt.Fprintf(out, "Archive: %s\n\n", dir)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tPOSTS\tLAST SEEN\tUPDATED")
	for _, collection := range domain.Collections {
		lastSeen, updated := "-", "never"
		if c, ok := byCollection[collection]; ok {
			if id := c.Boundary(); id != "" {
				lastSeen = id
			}
			updated = c.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", collection, stats.PostsByType[collection], lastSeen, updated)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nMedia: %d downloaded, %d linked only\n",
		stats.MediaByStatus[domain.DownloadStatusOK],
		stats.MediaByStatus[domain.DownloadStatusFallback])
	return nil
}
