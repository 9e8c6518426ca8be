package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"mastodon_archiver/internal/domain"
)

type CursorStore struct {
	db *sqlx.DB
}

func NewCursorStore(db *sqlx.DB) *CursorStore {
	return &CursorStore{db: db}
}

// Get returns the cursor for a collection, or an empty cursor on a first run.
func (s *CursorStore) Get(ctx context.Context, collection domain.Collection) (*domain.SyncCursor, error) {
	var cursor domain.SyncCursor
	err := s.db.GetContext(ctx, &cursor, s.db.Rebind(`
		SELECT collection, last_seen_id, updated_at
		FROM sync_cursors
		WHERE collection = ?`), string(collection))
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SyncCursor{Collection: collection}, nil
	}
	if err != nil {
		return nil, classify("get cursor "+string(collection), err)
	}
	return &cursor, nil
}

// Set overwrites the single cursor row of the collection.
func (s *CursorStore) Set(ctx context.Context, cursor *domain.SyncCursor) error {
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sync_cursors (collection, last_seen_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (collection) DO UPDATE SET
			last_seen_id = excluded.last_seen_id,
			updated_at = excluded.updated_at`),
		string(cursor.Collection),
		cursor.LastSeenID,
		cursor.UpdatedAt,
	)
	return classify("set cursor "+string(cursor.Collection), err)
}

func (s *CursorStore) List(ctx context.Context) ([]domain.SyncCursor, error) {
	var cursors []domain.SyncCursor
	err := s.db.SelectContext(ctx, &cursors, `
		SELECT collection, last_seen_id, updated_at
		FROM sync_cursors
		ORDER BY collection`)
	if err != nil {
		return nil, classify("list cursors", err)
	}
	return cursors, nil
}
