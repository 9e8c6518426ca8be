package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mastodon_archiver/internal/domain"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.ObservePage(domain.CollectionFavorites, nil)
	r.ObservePage(domain.CollectionFavorites, nil)
	r.ObservePage(domain.CollectionFavorites, errors.New("timeout"))

	r.ObserveItem(domain.CollectionBookmarks, domain.ItemResult{Outcome: domain.OutcomeArchived, MediaOK: 2, MediaFailed: 1})
	r.ObserveItem(domain.CollectionBookmarks, domain.Skipped("1", "already archived"))

	r.ObserveCollection(&domain.SyncStats{
		Collection:   domain.CollectionBookmarks,
		State:        domain.StateDone,
		CursorBefore: "1",
		CursorAfter:  "2",
		Duration:     1500 * time.Millisecond,
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.pages.WithLabelValues("favorite", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pages.WithLabelValues("favorite", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.posts.WithLabelValues("bookmark", "archived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.posts.WithLabelValues("bookmark", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.media.WithLabelValues("bookmark", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.media.WithLabelValues("bookmark", "failed")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.syncDuration.WithLabelValues("bookmark")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cursorMoved.WithLabelValues("bookmark")))
	assert.Greater(t, testutil.ToFloat64(r.lastSuccess.WithLabelValues("bookmark")), 0.0)
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObservePage(domain.CollectionFavorites, nil)

	path := filepath.Join(t.TempDir(), "archiver.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mastodon_archiver_pages_total{collection="favorite",result="ok"} 1`)
}
