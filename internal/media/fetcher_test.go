package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mastodon_archiver/internal/domain"
	"mastodon_archiver/internal/storage/files"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type fakeIndex struct {
	mu    sync.Mutex
	media map[string]*domain.MediaAttachment
	err   error
}

func (f *fakeIndex) FindMediaByURL(_ context.Context, remoteURL string) (*domain.MediaAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.media[remoteURL], nil
}

type fixture struct {
	server  *httptest.Server
	hits    atomic.Int32
	store   *files.Store
	index   *fakeIndex
	fetcher *Fetcher
}

func newFixture(t *testing.T, handler http.HandlerFunc, cfg Config) *fixture {
	t.Helper()
	f := &fixture{index: &fakeIndex{media: map[string]*domain.MediaAttachment{}}}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)

	store, err := files.New(t.TempDir())
	require.NoError(t, err)
	f.store = store

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	f.fetcher = NewFetcher(cfg, f.index, store, zerolog.Nop())
	return f
}

func servePNG(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(pngHeader)
}

func TestFetch_DownloadsWithURLExtension(t *testing.T) {
	f := newFixture(t, servePNG, Config{UserAgent: "mastodon-archiver/1.0"})
	remote := f.server.URL + "/media/original/photo.PNG"

	r := f.fetcher.Fetch(context.Background(), "101", remote)

	require.NoError(t, r.Err)
	assert.Equal(t, domain.DownloadStatusOK, r.Status)
	assert.Equal(t, "image/png", r.MimeType)
	require.NotNil(t, r.LocalPath)
	assert.Equal(t, filepath.Join("media", FileName("101", remote, ".png")), *r.LocalPath)

	data, err := os.ReadFile(f.store.Abs(*r.LocalPath))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestFetch_SniffsExtensionAndType(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}, Config{})
	remote := f.server.URL + "/files/abc"

	r := f.fetcher.Fetch(context.Background(), "7", remote)

	require.NoError(t, r.Err)
	assert.Equal(t, "image/png", r.MimeType)
	assert.Equal(t, filepath.Join("media", FileName("7", remote, ".png")), *r.LocalPath)
}

func TestFetch_HTTPErrorFallsBack(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, Config{})

	r := f.fetcher.Fetch(context.Background(), "1", f.server.URL+"/gone.jpg")

	assert.Equal(t, domain.DownloadStatusFallback, r.Status)
	assert.Nil(t, r.LocalPath)
	assert.True(t, domain.IsKind(r.Err, domain.KindMediaDownload))

	entries, err := os.ReadDir(f.store.Abs(files.MediaDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetch_TooLargeFallsBack(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, 8192))
	}, Config{MaxSize: 1024})

	r := f.fetcher.Fetch(context.Background(), "1", f.server.URL+"/big.png")

	assert.Equal(t, domain.DownloadStatusFallback, r.Status)
	assert.ErrorIs(t, r.Err, ErrTooLarge)

	entries, err := os.ReadDir(f.store.Abs(files.MediaDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetch_SameURLDownloadedOnce(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		servePNG(w, r)
	}, Config{})
	remote := f.server.URL + "/shared.png"

	var wg sync.WaitGroup
	results := make([]domain.MediaResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.fetcher.Fetch(context.Background(), "55", remote)
		}(i)
	}
	wg.Wait()

	later := f.fetcher.Fetch(context.Background(), "56", remote)

	assert.Equal(t, int32(1), f.hits.Load())
	for _, r := range results {
		require.NotNil(t, r.LocalPath)
		assert.Equal(t, *results[0].LocalPath, *r.LocalPath)
	}
	assert.Equal(t, *results[0].LocalPath, *later.LocalPath)
}

func TestFetch_FailureIsNotRetriedInRun(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, Config{})
	remote := f.server.URL + "/flaky.gif"

	first := f.fetcher.Fetch(context.Background(), "1", remote)
	second := f.fetcher.Fetch(context.Background(), "2", remote)

	assert.Equal(t, domain.DownloadStatusFallback, first.Status)
	assert.Equal(t, domain.DownloadStatusFallback, second.Status)
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestFetch_ReusesArchivedRows(t *testing.T) {
	f := newFixture(t, servePNG, Config{})
	okURL := f.server.URL + "/ok.png"
	failedURL := f.server.URL + "/failed.png"
	local := "media/9_00000000.png"

	f.index.media[okURL] = &domain.MediaAttachment{
		PostID: "9", RemoteURL: okURL, LocalPath: &local, MimeType: "image/png", DownloadStatus: domain.DownloadStatusOK,
	}
	f.index.media[failedURL] = &domain.MediaAttachment{
		PostID: "9", RemoteURL: failedURL, DownloadStatus: domain.DownloadStatusFallback,
	}

	ok := f.fetcher.Fetch(context.Background(), "10", okURL)
	assert.Equal(t, domain.DownloadStatusOK, ok.Status)
	assert.Equal(t, local, *ok.LocalPath)

	failed := f.fetcher.Fetch(context.Background(), "10", failedURL)
	assert.Equal(t, domain.DownloadStatusFallback, failed.Status)
	assert.ErrorIs(t, failed.Err, ErrPreviouslyFailed)

	assert.Equal(t, int32(0), f.hits.Load())
}

func TestFetch_ReusesFileOnDisk(t *testing.T) {
	f := newFixture(t, servePNG, Config{})
	remote := f.server.URL + "/left-behind"
	rel := filepath.Join("media", FileName("3", remote, ".png"))
	require.NoError(t, os.WriteFile(f.store.Abs(rel), pngHeader, 0o644))

	r := f.fetcher.Fetch(context.Background(), "3", remote)

	assert.Equal(t, domain.DownloadStatusOK, r.Status)
	assert.Equal(t, rel, *r.LocalPath)
	assert.Equal(t, "image/png", r.MimeType)
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestFetch_IndexErrorStillDownloads(t *testing.T) {
	f := newFixture(t, servePNG, Config{})
	f.index.err = errors.New("database is locked")

	r := f.fetcher.Fetch(context.Background(), "4", f.server.URL+"/a.png")

	assert.Equal(t, domain.DownloadStatusOK, r.Status)
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestFetch_UnsafePostIDFallsBack(t *testing.T) {
	f := newFixture(t, servePNG, Config{})

	r := f.fetcher.Fetch(context.Background(), "../../escaped", f.server.URL+"/a.png")

	assert.Equal(t, domain.DownloadStatusFallback, r.Status)
	assert.ErrorIs(t, r.Err, ErrUnsafePostID)
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestFileName(t *testing.T) {
	name := FileName("42", "https://files.example/a.png", ".png")
	assert.Regexp(t, `^42_[0-9a-f]{8}\.png$`, name)
	assert.Equal(t, name, FileName("42", "https://files.example/a.png", ".png"))
	assert.NotEqual(t, name, FileName("42", "https://files.example/b.png", ".png"))
}
