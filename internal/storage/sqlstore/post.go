package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"mastodon_archiver/internal/domain"
)

// PostStore is the append-only archive of posts and their media rows.
// It deliberately has no update or delete methods.
type PostStore struct {
	db *sqlx.DB
}

func NewPostStore(db *sqlx.DB) *PostStore {
	return &PostStore{db: db}
}

type postRow struct {
	ID                 string         `db:"id"`
	PostType           string         `db:"post_type"`
	URL                string         `db:"url"`
	URI                string         `db:"uri"`
	CreatedAt          string         `db:"created_at"`
	AccountID          string         `db:"account_id"`
	AccountUsername    string         `db:"account_username"`
	AccountAcct        string         `db:"account_acct"`
	AccountDisplayName string         `db:"account_display_name"`
	AccountURL         string         `db:"account_url"`
	Content            string         `db:"content"`
	ContentText        string         `db:"content_text"`
	ContentWarning     string         `db:"content_warning"`
	Visibility         string         `db:"visibility"`
	Language           sql.NullString `db:"language"`
	RepliesCount       int64          `db:"replies_count"`
	ReblogsCount       int64          `db:"reblogs_count"`
	FavouritesCount    int64          `db:"favourites_count"`
	ReblogOf           sql.NullString `db:"reblog_of"`
	ArchivedAt         time.Time      `db:"archived_at"`
}

func (r postRow) toDomain() domain.ArchivedPost {
	post := domain.ArchivedPost{
		ID:        r.ID,
		PostType:  domain.Collection(r.PostType),
		URL:       r.URL,
		URI:       r.URI,
		CreatedAt: r.CreatedAt,
		Account: domain.Account{
			ID:          r.AccountID,
			Username:    r.AccountUsername,
			Acct:        r.AccountAcct,
			DisplayName: r.AccountDisplayName,
			URL:         r.AccountURL,
		},
		Content:        r.Content,
		ContentText:    r.ContentText,
		ContentWarning: r.ContentWarning,
		Visibility:     r.Visibility,
		Engagement: domain.Engagement{
			Replies:    r.RepliesCount,
			Reblogs:    r.ReblogsCount,
			Favourites: r.FavouritesCount,
		},
		ArchivedAt: r.ArchivedAt,
	}
	if r.Language.Valid {
		post.Language = &r.Language.String
	}
	if r.ReblogOf.Valid {
		post.ReblogOf = &r.ReblogOf.String
	}
	return post
}

// InsertIfAbsent stores the post row and reports whether it was newly
// inserted. An existing row with the same id is left untouched.
func (s *PostStore) InsertIfAbsent(ctx context.Context, post *domain.ArchivedPost) (bool, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		INSERT INTO archived_posts (
			id, post_type, url, uri, created_at,
			account_id, account_username, account_acct, account_display_name, account_url,
			content, content_text, content_warning, visibility, language,
			replies_count, reblogs_count, favourites_count, reblog_of, archived_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
		ON CONFLICT (id) DO NOTHING`)

	res, err := exec.ExecContext(ctx, query,
		post.ID,
		string(post.PostType),
		post.URL,
		post.URI,
		post.CreatedAt,
		post.Account.ID,
		post.Account.Username,
		post.Account.Acct,
		post.Account.DisplayName,
		post.Account.URL,
		post.Content,
		post.ContentText,
		post.ContentWarning,
		post.Visibility,
		post.Language,
		post.Engagement.Replies,
		post.Engagement.Reblogs,
		post.Engagement.Favourites,
		post.ReblogOf,
		post.ArchivedAt,
	)
	if err != nil {
		return false, classify("insert post "+post.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, classify("insert post "+post.ID, err)
	}
	return affected > 0, nil
}

func (s *PostStore) Contains(ctx context.Context, postID string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count,
		s.db.Rebind("SELECT COUNT(*) FROM archived_posts WHERE id = ?"), postID)
	if err != nil {
		return false, classify("check post "+postID, err)
	}
	return count > 0, nil
}

// Get loads a post with its media rows. It returns nil when the post is unknown.
func (s *PostStore) Get(ctx context.Context, postID string) (*domain.ArchivedPost, error) {
	var row postRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, post_type, url, uri, created_at,
			account_id, account_username, account_acct, account_display_name, account_url,
			content, content_text, content_warning, visibility, language,
			replies_count, reblogs_count, favourites_count, reblog_of, archived_at
		FROM archived_posts
		WHERE id = ?`), postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get post "+postID, err)
	}

	post := row.toDomain()
	media, err := s.ListMedia(ctx, postID)
	if err != nil {
		return nil, err
	}
	post.Media = media
	return &post, nil
}

// Stats summarises archive contents for status output.
type Stats struct {
	PostsByType   map[domain.Collection]int
	MediaByStatus map[domain.DownloadStatus]int
}

func (s *PostStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		PostsByType:   make(map[domain.Collection]int),
		MediaByStatus: make(map[domain.DownloadStatus]int),
	}

	var posts []struct {
		PostType string `db:"post_type"`
		Count    int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &posts,
		"SELECT post_type, COUNT(*) AS count FROM archived_posts GROUP BY post_type")
	if err != nil {
		return nil, classify("count posts", err)
	}
	for _, p := range posts {
		stats.PostsByType[domain.Collection(p.PostType)] = p.Count
	}

	var media []struct {
		Status string `db:"download_status"`
		Count  int    `db:"count"`
	}
	err = s.db.SelectContext(ctx, &media,
		"SELECT download_status, COUNT(*) AS count FROM media_attachments GROUP BY download_status")
	if err != nil {
		return nil, classify("count media", err)
	}
	for _, m := range media {
		stats.MediaByStatus[domain.DownloadStatus(m.Status)] = m.Count
	}

	return stats, nil
}
