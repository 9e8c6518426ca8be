// Package mastodon reads the favourites and bookmarks collections of an
// account through the Mastodon REST API.
package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"mastodon_archiver/internal/domain"
)

const UserAgent = "mastodon-archiver/1.0"

var endpoints = map[domain.Collection]string{
	domain.CollectionFavorites: "/api/v1/favourites",
	domain.CollectionBookmarks: "/api/v1/bookmarks",
}

type Config struct {
	BaseURL        string
	AccessToken    string
	PageSize       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Reader struct {
	httpClient     *http.Client
	baseURL        string
	accessToken    string
	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	pacer          Pacer
	validate       *validator.Validate
	now            func() time.Time
	logger         zerolog.Logger
}

func NewReader(cfg Config, pacer Pacer, logger zerolog.Logger) *Reader {
	if pacer == nil {
		pacer = NoWait{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reader{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		accessToken:    cfg.AccessToken,
		pageSize:       cfg.PageSize,
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		pacer:          pacer,
		validate:       newValidator(),
		now:            time.Now,
		logger:         logger.With().Str("component", "reader").Logger(),
	}
}

// FetchPage returns one newest-first page of collection older than maxID.
// An empty maxID requests the newest page.
func (r *Reader) FetchPage(ctx context.Context, collection domain.Collection, maxID string) (*domain.Page, error) {
	endpoint, ok := endpoints[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	if err := r.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(r.pageSize))
	if maxID != "" {
		query.Set("max_id", maxID)
	}
	pageURL := r.baseURL + endpoint + "?" + query.Encode()
	op := fmt.Sprintf("fetch %s page", collection)

	var (
		raw  []json.RawMessage
		link string
	)
	err := backoff.RetryNotify(
		func() error {
			var err error
			raw, link, err = r.doRequest(ctx, op, pageURL)
			return err
		},
		backoff.WithContext(r.newBackOff(), ctx),
		func(err error, wait time.Duration) {
			r.logger.Warn().
				Err(err).
				Str("collection", collection.String()).
				Str("max_id", maxID).
				Dur("backoff", wait).
				Msg("page request failed, retrying")
		},
	)
	if err != nil {
		return nil, err
	}

	page := r.buildPage(collection, raw, link)

	r.logger.Debug().
		Str("collection", collection.String()).
		Str("max_id", maxID).
		Int("posts", len(page.Posts)).
		Bool("has_more", page.HasMore).
		Msg("fetched page")

	return page, nil
}

func (r *Reader) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.initialBackoff > 0 {
		b.InitialInterval = r.initialBackoff
	}
	if r.maxBackoff > 0 {
		b.MaxInterval = r.maxBackoff
	}
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(r.maxAttempts-1))
}

// doRequest performs one GET. Errors that must not be retried are wrapped
// with backoff.Permanent.
func (r *Reader) doRequest(ctx context.Context, op, pageURL string) ([]json.RawMessage, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Authorization", "Bearer "+r.accessToken)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", backoff.Permanent(ctx.Err())
		}
		return nil, "", domain.TransientNetworkError(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		code := resp.StatusCode
		if domain.KindForStatus(code) == domain.KindAuth {
			return nil, "", backoff.Permanent(domain.AuthError(op, code))
		}
		err := domain.TransientNetworkError(op, code, errors.New(http.StatusText(code)))
		if !domain.IsRetryableStatusCode(code) {
			return nil, "", backoff.Permanent(err)
		}
		return nil, "", err
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, "", backoff.Permanent(domain.TransientNetworkError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err)))
	}

	return raw, resp.Header.Get("Link"), nil
}

func (r *Reader) buildPage(collection domain.Collection, raw []json.RawMessage, link string) *domain.Page {
	page := &domain.Page{Posts: make([]domain.FetchedPost, 0, len(raw))}
	archivedAt := r.now().UTC()

	for _, item := range raw {
		page.Posts = append(page.Posts, r.decodeItem(collection, item, archivedAt))
	}

	switch next, ok := nextMaxID(link); {
	case ok:
		page.NextMaxID = next
		page.HasMore = len(raw) > 0
	case link == "" && len(raw) >= r.pageSize && len(raw) > 0:
		page.NextMaxID = page.Posts[len(page.Posts)-1].ID
		page.HasMore = page.NextMaxID != ""
	}

	return page
}

func (r *Reader) decodeItem(collection domain.Collection, item json.RawMessage, archivedAt time.Time) domain.FetchedPost {
	var status Status
	if err := json.Unmarshal(item, &status); err != nil {
		var id struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(item, &id)
		return domain.FetchedPost{ID: id.ID, Invalid: fmt.Errorf("decode status: %w", err)}
	}

	if err := r.validate.Struct(status); err != nil {
		return domain.FetchedPost{ID: status.ID, Invalid: fmt.Errorf("validate status: %w", err)}
	}

	return domain.FetchedPost{
		ID:   status.ID,
		Post: Transform(status, collection, archivedAt),
	}
}
