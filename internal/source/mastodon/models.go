package mastodon

import (
	"github.com/go-playground/validator/v10"

	"mastodon_archiver/internal/domain"
)

// newValidator registers the postid rule: ids become file names, so only
// path-safe characters are accepted.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("postid", func(fl validator.FieldLevel) bool {
		return domain.IsSafeID(fl.Field().String())
	})
	return v
}

// Status is the subset of the Mastodon status entity the archiver keeps.
// Validation tags describe the minimum a record needs to be archived.
type Status struct {
	ID               string       `json:"id" validate:"required,postid"`
	CreatedAt        string       `json:"created_at"`
	URL              string       `json:"url"`
	URI              string       `json:"uri"`
	Account          Account      `json:"account"`
	Content          string       `json:"content"`
	SpoilerText      string       `json:"spoiler_text"`
	Visibility       string       `json:"visibility"`
	Language         *string      `json:"language"`
	RepliesCount     int64        `json:"replies_count" validate:"min=0"`
	ReblogsCount     int64        `json:"reblogs_count" validate:"min=0"`
	FavouritesCount  int64        `json:"favourites_count" validate:"min=0"`
	MediaAttachments []Attachment `json:"media_attachments"`
	Reblog           *Status      `json:"reblog"`
}

type Account struct {
	ID          string `json:"id" validate:"required"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

type Attachment struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	RemoteURL   *string `json:"remote_url"`
	Description *string `json:"description"`
}
