package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mastodon_archiver/internal/domain"
	"mastodon_archiver/internal/metrics"
	"mastodon_archiver/internal/scheduler"
	"mastodon_archiver/internal/service"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		interval    time.Duration
		collections []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive new favourites and bookmarks",
		Long: `Fetch every favourite and bookmark added since the last run and store it
in the archive. With --interval the archiver keeps running and repeats the
sync on that interval.`,
		Example: `  mastodon-archiver run
  mastodon-archiver run --collections bookmarks
  mastodon-archiver run --interval 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root, true)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Sync.Interval = interval
			}
			if len(collections) > 0 {
				cfg.Sync.Collections = collections
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.connectPublisher(); err != nil {
				a.logger.Warn().Err(err).Msg("rabbitmq unavailable, continuing without notifications")
			}

			syncer := &textfileSyncer{
				next:     a.newArchiver(),
				recorder: a.metrics,
				path:     cfg.Metrics.Textfile,
				onError:  func(err error) { a.logger.Warn().Err(err).Msg("failed to write metrics textfile") },
			}

			if cfg.Sync.Interval > 0 {
				err := scheduler.NewScheduler(syncer, cfg.Sync.Interval, a.logger).Start(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			_, err = syncer.Run(ctx)
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat the sync on this interval instead of exiting (0 runs once)")
	cmd.Flags().StringSliceVar(&collections, "collections", nil, "collections to sync (favourites, bookmarks)")

	return cmd
}

// textfileSyncer writes the metrics textfile after every run.
type textfileSyncer struct {
	next     *service.Archiver
	recorder *metrics.Recorder
	path     string
	onError  func(error)
}

func (s *textfileSyncer) Run(ctx context.Context) (*domain.RunSummary, error) {
	summary, err := s.next.Run(ctx)
	if s.path != "" {
		if werr := s.recorder.WriteTextfile(s.path); werr != nil {
			s.onError(werr)
		}
	}
	return summary, err
}

