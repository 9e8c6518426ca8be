package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"mastodon_archiver/internal/domain"
)

type Source interface {
	FetchPage(ctx context.Context, collection domain.Collection, maxID string) (*domain.Page, error)
}

type PostStore interface {
	Contains(ctx context.Context, postID string) (bool, error)
	InsertIfAbsent(ctx context.Context, post *domain.ArchivedPost) (bool, error)
	InsertMedia(ctx context.Context, media *domain.MediaAttachment) error
}

type CursorStore interface {
	Get(ctx context.Context, collection domain.Collection) (*domain.SyncCursor, error)
	Set(ctx context.Context, cursor *domain.SyncCursor) error
}

type MediaFetcher interface {
	Fetch(ctx context.Context, postID, remoteURL string) domain.MediaResult
}

type RecordWriter interface {
	WritePostIfAbsent(post *domain.ArchivedPost) (bool, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, post *domain.ArchivedPost) error
	Close() error
}

type Metrics interface {
	ObservePage(collection domain.Collection, err error)
	ObserveItem(collection domain.Collection, result domain.ItemResult)
	ObserveCollection(stats *domain.SyncStats)
}
