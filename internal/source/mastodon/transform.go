package mastodon

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mastodon_archiver/internal/domain"
)

const defaultVisibility = "public"

// Transform maps a remote status onto an archived post. For a reblog the
// body comes from the reblogged status while the id stays the wrapper's.
func Transform(s Status, collection domain.Collection, archivedAt time.Time) domain.ArchivedPost {
	body := s
	var reblogOf *string
	if s.Reblog != nil {
		body = *s.Reblog
		id := s.Reblog.ID
		reblogOf = &id
	}

	visibility := s.Visibility
	if visibility == "" {
		visibility = defaultVisibility
	}

	post := domain.ArchivedPost{
		ID:        s.ID,
		PostType:  collection,
		URL:       body.URL,
		URI:       body.URI,
		CreatedAt: body.CreatedAt,
		Account: domain.Account{
			ID:          body.Account.ID,
			Username:    body.Account.Username,
			Acct:        body.Account.Acct,
			DisplayName: body.Account.DisplayName,
			URL:         body.Account.URL,
		},
		Content:        body.Content,
		ContentText:    PlainText(body.Content),
		ContentWarning: body.SpoilerText,
		Visibility:     visibility,
		Language:       body.Language,
		Engagement: domain.Engagement{
			Replies:    body.RepliesCount,
			Reblogs:    body.ReblogsCount,
			Favourites: body.FavouritesCount,
		},
		ReblogOf:   reblogOf,
		ArchivedAt: archivedAt,
	}

	for _, a := range body.MediaAttachments {
		if a.URL == "" {
			continue
		}
		description := ""
		if a.Description != nil {
			description = *a.Description
		}
		post.Media = append(post.Media, domain.MediaAttachment{
			PostID:      s.ID,
			RemoteURL:   a.URL,
			MediaType:   a.Type,
			Description: description,
		})
	}

	return post
}

// PlainText renders status HTML as text, keeping paragraph and line breaks.
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("br").ReplaceWithHtml("\n")

	paragraphs := doc.Find("p")
	if paragraphs.Length() == 0 {
		return strings.TrimSpace(doc.Text())
	}

	var parts []string
	paragraphs.Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}
