package domain

import (
	"regexp"
	"time"
)

// Collection identifies one of the remote item sets that are archived.
type Collection string

const (
	CollectionFavorites Collection = "favorite"
	CollectionBookmarks Collection = "bookmark"
)

// Collections lists every supported collection in default sync order.
var Collections = []Collection{CollectionFavorites, CollectionBookmarks}

func (c Collection) Valid() bool {
	return c == CollectionFavorites || c == CollectionBookmarks
}

func (c Collection) String() string {
	return string(c)
}

// ParseCollection accepts the singular and plural spellings used in config
// files and on the command line.
func ParseCollection(s string) (Collection, bool) {
	switch s {
	case "favorite", "favorites", "favourite", "favourites":
		return CollectionFavorites, true
	case "bookmark", "bookmarks":
		return CollectionBookmarks, true
	}
	return "", false
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// IsSafeID reports whether a remote post id can be used as a file name.
// Mastodon ids are numeric; Pleroma and Akkoma use alphanumeric flake ids.
func IsSafeID(id string) bool {
	return safeID.MatchString(id)
}

type ArchivedPost struct {
	ID             string            `json:"id" db:"id"`
	PostType       Collection        `json:"type" db:"post_type"`
	URL            string            `json:"url" db:"url"`
	URI            string            `json:"uri" db:"uri"`
	CreatedAt      string            `json:"created_at" db:"created_at"`
	Account        Account           `json:"account"`
	Content        string            `json:"content" db:"content"`
	ContentText    string            `json:"content_text" db:"content_text"`
	ContentWarning string            `json:"spoiler_text" db:"content_warning"`
	Visibility     string            `json:"visibility" db:"visibility"`
	Language       *string           `json:"language" db:"language"`
	Engagement     Engagement        `json:"engagement"`
	ReblogOf       *string           `json:"reblog_of" db:"reblog_of"`
	ArchivedAt     time.Time         `json:"archived_at" db:"archived_at"`
	Media          []MediaAttachment `json:"media_files"`
}

// Account is the author snapshot taken when the post was archived.
type Account struct {
	ID          string `json:"id" db:"account_id"`
	Username    string `json:"username" db:"account_username"`
	Acct        string `json:"acct" db:"account_acct"`
	DisplayName string `json:"display_name" db:"account_display_name"`
	URL         string `json:"url" db:"account_url"`
}

// Engagement holds counters as they were at archive time. They are never refreshed.
type Engagement struct {
	Replies    int64 `json:"replies_count" db:"replies_count"`
	Reblogs    int64 `json:"reblogs_count" db:"reblogs_count"`
	Favourites int64 `json:"favourites_count" db:"favourites_count"`
}

type DownloadStatus string

const (
	DownloadStatusOK       DownloadStatus = "ok"
	DownloadStatusFallback DownloadStatus = "failed_fallback_to_url"
)

type MediaAttachment struct {
	PostID         string         `json:"-" db:"post_id"`
	RemoteURL      string         `json:"original_url" db:"remote_url"`
	LocalPath      *string        `json:"local_path" db:"local_path"`
	MimeType       string         `json:"mime_type" db:"mime_type"`
	MediaType      string         `json:"type" db:"media_type"`
	Description    string         `json:"description" db:"description"`
	DownloadStatus DownloadStatus `json:"download_status" db:"download_status"`
}

// MediaResult is what the media fetcher reports for one remote URL.
type MediaResult struct {
	Status    DownloadStatus
	LocalPath *string
	MimeType  string
	Err       error
}

// FetchedPost is one entry of a remote page. Invalid is set when the remote
// record failed schema validation; Post is then only partially filled.
type FetchedPost struct {
	ID      string
	Post    ArchivedPost
	Invalid error
}

// Page is one newest-first slice of a remote collection.
type Page struct {
	Posts     []FetchedPost
	NextMaxID string
	HasMore   bool
}
