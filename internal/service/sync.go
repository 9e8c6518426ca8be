package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mastodon_archiver/internal/domain"
)

const (
	reasonAlreadyArchived = "already archived"
	reasonInvalidRecord   = "invalid record"
)

var errAlreadyArchived = errors.New("post already archived")

type Config struct {
	Collections      []domain.Collection
	MaxPages         int
	MediaConcurrency int
}

// Archiver walks each configured collection from newest to the recorded
// cursor and archives every item it has not stored yet.
type Archiver struct {
	source    Source
	posts     PostStore
	cursors   CursorStore
	media     MediaFetcher
	records   RecordWriter
	txManager TransactionManager
	publisher Publisher
	metrics   Metrics
	logger    zerolog.Logger
	config    Config
	now       func() time.Time
}

// NewArchiver wires the archiver. publisher and metrics may be nil.
func NewArchiver(
	source Source,
	posts PostStore,
	cursors CursorStore,
	media MediaFetcher,
	records RecordWriter,
	txManager TransactionManager,
	publisher Publisher,
	metrics Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Archiver {
	if cfg.MediaConcurrency < 1 {
		cfg.MediaConcurrency = 1
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = domain.Collections
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Archiver{
		source:    source,
		posts:     posts,
		cursors:   cursors,
		media:     media,
		records:   records,
		txManager: txManager,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "archiver").Logger(),
		config:    cfg,
		now:       time.Now,
	}
}

// Run syncs every configured collection in order. It stops at the first
// collection that aborts; the returned summary then has Aborted set.
func (a *Archiver) Run(ctx context.Context) (*domain.RunSummary, error) {
	summary := &domain.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: a.now(),
	}
	log := a.logger.With().Str("run_id", summary.RunID).Logger()
	log.Info().Strs("collections", collectionNames(a.config.Collections)).Msg("starting archive run")

	for _, collection := range a.config.Collections {
		stats, err := a.syncCollection(ctx, collection, log)
		summary.Collections = append(summary.Collections, stats)
		if err != nil {
			summary.Aborted = true
			summary.Duration = time.Since(summary.StartedAt)
			log.Error().Err(err).Str("collection", collection.String()).Msg("archive run aborted")
			return summary, fmt.Errorf("sync %s: %w", collection, err)
		}
	}

	summary.Duration = time.Since(summary.StartedAt)

	for _, stats := range summary.Collections {
		log.Info().
			Str("collection", stats.Collection.String()).
			Int("archived", stats.Archived).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Msg("collection summary")
	}
	if total := summary.TotalArchived(); total > 0 {
		log.Info().Dur("duration", summary.Duration).Msgf("archive complete: %d new posts archived", total)
	} else {
		log.Info().Dur("duration", summary.Duration).Msg("no new posts to archive")
	}

	return summary, nil
}

// SyncCollection runs a single collection pass.
func (a *Archiver) SyncCollection(ctx context.Context, collection domain.Collection) (*domain.SyncStats, error) {
	return a.syncCollection(ctx, collection, a.logger)
}

func (a *Archiver) syncCollection(ctx context.Context, collection domain.Collection, logger zerolog.Logger) (*domain.SyncStats, error) {
	start := time.Now()
	log := logger.With().Str("collection", collection.String()).Logger()
	stats := &domain.SyncStats{Collection: collection, State: domain.StateInit}
	defer func() {
		stats.Duration = time.Since(start)
		a.metrics.ObserveCollection(stats)
	}()

	cursor, err := a.cursors.Get(ctx, collection)
	if err != nil {
		stats.State = domain.StateAborted
		return stats, fmt.Errorf("load cursor: %w", err)
	}
	boundary := cursor.Boundary()
	stats.CursorBefore = boundary
	stats.CursorAfter = boundary

	log.Info().Str("last_seen_id", boundary).Msg("starting sync")
	stats.State = domain.StateStreaming

	queue, complete, err := a.collect(ctx, collection, boundary, stats, log)
	if err != nil {
		stats.State = domain.StateAborted
		return stats, err
	}
	log.Info().Int("pages", stats.Pages).Int("queued", len(queue)).Msg("pagination complete")

	advance := complete
	for i := len(queue) - 1; i >= 0; i-- {
		item := queue[i]
		if err := ctx.Err(); err != nil {
			stats.State = domain.StateAborted
			return stats, err
		}

		result, err := a.processItem(ctx, collection, item, log)
		if err != nil {
			stats.Record(domain.Failed(item.ID, err))
			stats.State = domain.StateAborted
			return stats, err
		}
		stats.Record(result)
		a.metrics.ObserveItem(collection, result)

		// Failed and invalid items are fetched again next run, so the
		// cursor must stay below them.
		if result.Outcome == domain.OutcomeFailed || item.Invalid != nil {
			if advance {
				log.Warn().Str("post_id", item.ID).Str("outcome", string(result.Outcome)).
					Msg("cursor held back until the post is archived")
			}
			advance = false
			continue
		}
		if !advance || item.ID == "" {
			continue
		}

		id := item.ID
		if err := a.cursors.Set(ctx, &domain.SyncCursor{
			Collection: collection,
			LastSeenID: &id,
			UpdatedAt:  a.now().UTC(),
		}); err != nil {
			stats.State = domain.StateAborted
			return stats, fmt.Errorf("advance cursor: %w", err)
		}
		stats.CursorAfter = id
	}

	stats.State = domain.StateDone
	log.Info().
		Int("archived", stats.Archived).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("media_ok", stats.MediaOK).
		Int("media_failed", stats.MediaFailed).
		Str("cursor", stats.CursorAfter).
		Msg("sync completed")

	return stats, nil
}

// collect pages newest-first until the boundary item, the last page or the
// page limit. complete is false when the walk stopped early, in which case
// the cursor must not move past the collected items.
func (a *Archiver) collect(
	ctx context.Context,
	collection domain.Collection,
	boundary string,
	stats *domain.SyncStats,
	log zerolog.Logger,
) ([]domain.FetchedPost, bool, error) {
	var (
		queue []domain.FetchedPost
		maxID string
	)

	for {
		if a.config.MaxPages > 0 && stats.Pages >= a.config.MaxPages {
			log.Warn().Int("max_pages", a.config.MaxPages).Msg("page limit reached before the last archived post, cursor not advanced")
			return queue, false, nil
		}

		page, err := a.source.FetchPage(ctx, collection, maxID)
		a.metrics.ObservePage(collection, err)
		if err != nil {
			if domain.IsFatal(err) || ctx.Err() != nil {
				return nil, false, err
			}
			stats.PageErrors++
			log.Warn().Err(err).Str("max_id", maxID).Msg("page fetch failed, archiving posts collected so far")
			return queue, false, nil
		}
		stats.Pages++

		for _, item := range page.Posts {
			if boundary != "" && item.ID == boundary {
				log.Debug().Str("post_id", item.ID).Msg("reached last archived post")
				return queue, true, nil
			}
			queue = append(queue, item)
		}

		if !page.HasMore || page.NextMaxID == "" {
			return queue, true, nil
		}
		maxID = page.NextMaxID
	}
}

// processItem archives one post. A non-nil error means the run must abort.
func (a *Archiver) processItem(
	ctx context.Context,
	collection domain.Collection,
	item domain.FetchedPost,
	log zerolog.Logger,
) (domain.ItemResult, error) {
	log = log.With().Str("post_id", item.ID).Logger()

	if item.Invalid != nil {
		log.Warn().Err(item.Invalid).Msg("skipping invalid record")
		return domain.Skipped(item.ID, reasonInvalidRecord), nil
	}

	post := item.Post
	exists, err := a.posts.Contains(ctx, post.ID)
	if err != nil {
		return a.storeFailure(post.ID, err, log)
	}
	if exists {
		log.Debug().Msg("post already archived")
		return domain.Skipped(post.ID, reasonAlreadyArchived), nil
	}

	result := domain.Archived(post.ID)
	a.fetchMedia(ctx, &post, &result)

	if _, err := a.records.WritePostIfAbsent(&post); err != nil {
		log.Warn().Err(err).Msg("failed to write post record")
		return domain.Failed(post.ID, err), nil
	}

	err = a.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inserted, err := a.posts.InsertIfAbsent(txCtx, &post)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyArchived
		}
		for i := range post.Media {
			if err := a.posts.InsertMedia(txCtx, &post.Media[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadyArchived) || domain.IsKind(err, domain.KindStoreIntegrity) {
		log.Debug().Err(err).Msg("post stored concurrently, treating as archived")
		return domain.Skipped(post.ID, reasonAlreadyArchived), nil
	}
	if err != nil {
		return a.storeFailure(post.ID, err, log)
	}

	log.Info().
		Str("type", collection.String()).
		Int("media", len(post.Media)).
		Int("media_failed", result.MediaFailed).
		Msg("archived post")

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, &post); err != nil {
			log.Warn().Err(err).Msg("failed to publish archived post")
		}
	}

	return result, nil
}

func (a *Archiver) storeFailure(postID string, err error, log zerolog.Logger) (domain.ItemResult, error) {
	if domain.IsFatal(err) {
		return domain.ItemResult{}, err
	}
	log.Warn().Err(err).Msg("failed to archive post")
	return domain.Failed(postID, err), nil
}

// fetchMedia resolves every attachment of post, keeping attachment order.
func (a *Archiver) fetchMedia(ctx context.Context, post *domain.ArchivedPost, result *domain.ItemResult) {
	if len(post.Media) == 0 {
		return
	}

	results := make([]domain.MediaResult, len(post.Media))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.MediaConcurrency)
	for i := range post.Media {
		g.Go(func() error {
			results[i] = a.media.Fetch(gctx, post.ID, post.Media[i].RemoteURL)
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		m := &post.Media[i]
		m.PostID = post.ID
		m.DownloadStatus = r.Status
		m.LocalPath = r.LocalPath
		if r.MimeType != "" {
			m.MimeType = r.MimeType
		}
		if r.Status == domain.DownloadStatusOK {
			result.MediaOK++
		} else {
			result.MediaFailed++
		}
	}
}

func collectionNames(collections []domain.Collection) []string {
	names := make([]string, len(collections))
	for i, c := range collections {
		names[i] = c.String()
	}
	return names
}

type nopMetrics struct{}

func (nopMetrics) ObservePage(domain.Collection, error)             {}
func (nopMetrics) ObserveItem(domain.Collection, domain.ItemResult) {}
func (nopMetrics) ObserveCollection(*domain.SyncStats)              {}
