package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"mastodon_archiver/internal/domain"
)

const mediaColumns = `post_id, remote_url, local_path, mime_type, media_type, description, download_status`

// InsertMedia stores one attachment row. A row for the same post and URL is
// kept as is, so two attachments of one post sharing a URL collapse to one row.
func (s *PostStore) InsertMedia(ctx context.Context, m *domain.MediaAttachment) error {
	exec := GetExecutor(ctx, s.db)
	_, err := exec.ExecContext(ctx, exec.Rebind(`
		INSERT INTO media_attachments (`+mediaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id, remote_url) DO NOTHING`),
		m.PostID,
		m.RemoteURL,
		m.LocalPath,
		m.MimeType,
		m.MediaType,
		m.Description,
		string(m.DownloadStatus),
	)
	return classify("insert media "+m.RemoteURL, err)
}

// FindMediaByURL returns an existing attachment for remoteURL, preferring a
// successful download. It returns nil when the URL was never seen.
func (s *PostStore) FindMediaByURL(ctx context.Context, remoteURL string) (*domain.MediaAttachment, error) {
	var m domain.MediaAttachment
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &m, s.db.Rebind(`
		SELECT `+mediaColumns+`
		FROM media_attachments
		WHERE remote_url = ?
		ORDER BY CASE download_status WHEN 'ok' THEN 0 ELSE 1 END
		LIMIT 1`), remoteURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find media "+remoteURL, err)
	}
	return &m, nil
}

func (s *PostStore) ListMedia(ctx context.Context, postID string) ([]domain.MediaAttachment, error) {
	var media []domain.MediaAttachment
	err := s.db.SelectContext(ctx, &media, s.db.Rebind(`
		SELECT `+mediaColumns+`
		FROM media_attachments
		WHERE post_id = ?
		ORDER BY remote_url`), postID)
	if err != nil {
		return nil, classify("list media "+postID, err)
	}
	return media, nil
}
