package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mastodon_archiver/internal/domain"
	"mastodon_archiver/internal/storage/files"
	"mastodon_archiver/internal/storage/sqlstore"
)

func newShowCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <post-id>",
		Short: "Show one archived post",
		Long: `Show an archived post as recorded in the archive database, together with
its media and whether the JSON record file is present. With --json the record
file is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			post, err := sqlstore.NewPostStore(db).Get(ctx, args[0])
			if err != nil {
				return err
			}
			if post == nil {
				return fmt.Errorf("post %s is not archived", args[0])
			}

			store, err := files.New(cfg.Archive.Dir)
			if err != nil {
				return err
			}
			record, recordErr := store.ReadPost(post.ID)

			out := cmd.OutOrStdout()
			if asJSON {
				if recordErr != nil {
					return recordErr
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			}

			printPost(out, post)
			if recordErr != nil {
				fmt.Fprintf(out, "Record:     missing (%v)\n", recordErr)
			} else {
				fmt.Fprintf(out, "Record:     %s\n", files.PostPath(post.ID))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the JSON record file")
	return cmd
}

func printPost(out io.Writer, post *domain.ArchivedPost) {
	fmt.Fprintf(out, "ID:         %s\n", post.ID)
	fmt.Fprintf(out, "Type:       %s\n", post.PostType)
	fmt.Fprintf(out, "Author:     %s (@%s)\n", post.Account.DisplayName, post.Account.Acct)
	fmt.Fprintf(out, "URL:        %s\n", post.URL)
	fmt.Fprintf(out, "Created:    %s\n", post.CreatedAt)
	fmt.Fprintf(out, "Archived:   %s\n", post.ArchivedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Visibility: %s\n", post.Visibility)
	if post.ReblogOf != nil {
		fmt.Fprintf(out, "Reblog of:  %s\n", *post.ReblogOf)
	}
	if post.ContentWarning != "" {
		fmt.Fprintf(out, "CW:         %s\n", post.ContentWarning)
	}
	fmt.Fprintf(out, "\n%s\n\n", post.ContentText)

	for _, m := range post.Media {
		location := m.RemoteURL
		if m.LocalPath != nil {
			location = *m.LocalPath
		}
		fmt.Fprintf(out, "Media:      %s %s %s\n", m.MediaType, m.DownloadStatus, location)
	}
}
