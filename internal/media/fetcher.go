// Package media downloads post attachments into the archive, making sure each
// remote URL is fetched at most once.
package media

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mastodon_archiver/internal/domain"
)

const (
	defaultExt = ".jpg"
	sniffLen   = 3072
)

var (
	ErrPreviouslyFailed = errors.New("download failed in an earlier run")
	ErrTooLarge         = errors.New("media exceeds size limit")
	ErrUnsafePostID     = errors.New("post id is not a safe file name")
)

// Index finds attachments already recorded in the archive.
type Index interface {
	FindMediaByURL(ctx context.Context, remoteURL string) (*domain.MediaAttachment, error)
}

// FileStore is the part of the archive file layout the fetcher writes to.
type FileStore interface {
	Abs(rel string) string
	WriteAtomic(rel string, r io.Reader) error
}

type Config struct {
	Timeout   time.Duration
	MaxSize   int64
	UserAgent string
}

type Fetcher struct {
	client    *http.Client
	index     Index
	files     FileStore
	maxSize   int64
	userAgent string
	logger    zerolog.Logger

	group singleflight.Group
	mu    sync.Mutex
	memo  map[string]domain.MediaResult
}

func NewFetcher(cfg Config, index Index, files FileStore, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		index:     index,
		files:     files,
		maxSize:   cfg.MaxSize,
		userAgent: cfg.UserAgent,
		logger:    logger.With().Str("component", "media").Logger(),
		memo:      make(map[string]domain.MediaResult),
	}
}

// Fetch resolves remoteURL to a local file. Failures are reported in the
// result with the fallback status; Fetch itself never fails.
func (f *Fetcher) Fetch(ctx context.Context, postID, remoteURL string) domain.MediaResult {
	if !domain.IsSafeID(postID) {
		return fallback(domain.MediaDownloadError(remoteURL, 0, fmt.Errorf("post id %q: %w", postID, ErrUnsafePostID)))
	}
	if r, ok := f.remembered(remoteURL); ok {
		return r
	}

	v, _, _ := f.group.Do(remoteURL, func() (any, error) {
		if r, ok := f.remembered(remoteURL); ok {
			return r, nil
		}
		r := f.resolve(ctx, postID, remoteURL)
		if ctx.Err() == nil {
			f.remember(remoteURL, r)
		}
		return r, nil
	})
	return v.(domain.MediaResult)
}

func (f *Fetcher) remembered(remoteURL string) (domain.MediaResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.memo[remoteURL]
	return r, ok
}

func (f *Fetcher) remember(remoteURL string, r domain.MediaResult) {
	f.mu.Lock()
	f.memo[remoteURL] = r
	f.mu.Unlock()
}

func (f *Fetcher) resolve(ctx context.Context, postID, remoteURL string) domain.MediaResult {
	log := f.logger.With().Str("post_id", postID).Str("url", remoteURL).Logger()

	existing, err := f.index.FindMediaByURL(ctx, remoteURL)
	if err != nil {
		log.Warn().Err(err).Msg("media lookup failed, downloading")
	}
	if existing != nil {
		if existing.DownloadStatus == domain.DownloadStatusOK && existing.LocalPath != nil {
			log.Debug().Str("local_path", *existing.LocalPath).Msg("reusing archived media")
			return domain.MediaResult{Status: domain.DownloadStatusOK, LocalPath: existing.LocalPath, MimeType: existing.MimeType}
		}
		log.Debug().Msg("media failed before, keeping fallback url")
		return fallback(domain.MediaDownloadError(remoteURL, 0, ErrPreviouslyFailed))
	}

	if rel, ok := f.onDisk(postID, remoteURL); ok {
		log.Debug().Str("local_path", rel).Msg("reusing media file on disk")
		return domain.MediaResult{
			Status:    domain.DownloadStatusOK,
			LocalPath: &rel,
			MimeType:  mime.TypeByExtension(filepath.Ext(rel)),
		}
	}

	r := f.download(ctx, postID, remoteURL)
	if r.Err != nil {
		log.Warn().Err(r.Err).Msg("media download failed, keeping fallback url")
	} else {
		log.Debug().Str("local_path", *r.LocalPath).Msg("media downloaded")
	}
	return r
}

// onDisk finds a file left by an interrupted run under the deterministic name.
func (f *Fetcher) onDisk(postID, remoteURL string) (string, bool) {
	pattern := f.files.Abs(path.Join("media", baseName(postID, remoteURL)+".*"))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return path.Join("media", filepath.Base(matches[0])), true
}

func (f *Fetcher) download(ctx context.Context, postID, remoteURL string) domain.MediaResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return fallback(domain.MediaDownloadError(remoteURL, 0, err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(domain.MediaDownloadError(remoteURL, 0, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fallback(domain.MediaDownloadError(remoteURL, resp.StatusCode, nil))
	}
	if f.maxSize > 0 && resp.ContentLength > f.maxSize {
		return fallback(domain.MediaDownloadError(remoteURL, resp.StatusCode, ErrTooLarge))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fallback(domain.MediaDownloadError(remoteURL, resp.StatusCode, err))
	}
	head = head[:n]
	detected := mimetype.Detect(head)

	rel := path.Join("media", FileName(postID, remoteURL, extension(remoteURL, detected)))
	body := io.MultiReader(bytes.NewReader(head), resp.Body)
	if f.maxSize > 0 {
		body = &limitReader{r: body, remaining: f.maxSize}
	}
	if err := f.files.WriteAtomic(rel, body); err != nil {
		return fallback(domain.MediaDownloadError(remoteURL, resp.StatusCode, err))
	}

	return domain.MediaResult{
		Status:    domain.DownloadStatusOK,
		LocalPath: &rel,
		MimeType:  contentType(resp.Header.Get("Content-Type"), detected),
	}
}

func fallback(err error) domain.MediaResult {
	return domain.MediaResult{Status: domain.DownloadStatusFallback, Err: err}
}

// FileName returns the deterministic file name for an attachment, without
// the media/ prefix. ext must include the leading dot.
func FileName(postID, remoteURL, ext string) string {
	return baseName(postID, remoteURL) + ext
}

func baseName(postID, remoteURL string) string {
	sum := md5.Sum([]byte(remoteURL))
	return fmt.Sprintf("%s_%s", postID, hex.EncodeToString(sum[:])[:8])
}

// extension prefers the extension of the URL path, then the sniffed type.
func extension(remoteURL string, detected *mimetype.MIME) string {
	if u, err := url.Parse(remoteURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if len(ext) > 1 && len(ext) <= 6 && isAlnum(ext[1:]) {
			return ext
		}
	}
	if detected != nil && detected.Extension() != "" {
		return detected.Extension()
	}
	return defaultExt
}

func contentType(header string, detected *mimetype.MIME) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if detected != nil {
		mt, _, _ := mime.ParseMediaType(detected.String())
		return mt
	}
	return ""
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
