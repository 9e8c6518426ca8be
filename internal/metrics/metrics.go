// Package metrics records archive run statistics with Prometheus collectors
// and writes them to a node_exporter textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"mastodon_archiver/internal/domain"
)

const namespace = "mastodon_archiver"

// Recorder encapsulates the Prometheus instrumentation of archive runs.
type Recorder struct {
	registry     *prometheus.Registry
	pages        *prometheus.CounterVec
	posts        *prometheus.CounterVec
	media        *prometheus.CounterVec
	syncDuration *prometheus.GaugeVec
	lastSuccess  *prometheus.GaugeVec
	cursorMoved  *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_total",
		Help:      "Collection pages requested, by result",
	}, []string{"collection", "result"})

	posts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_total",
		Help:      "Processed posts, by outcome",
	}, []string{"collection", "outcome"})

	media := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_total",
		Help:      "Attachments resolved, by download status",
	}, []string{"collection", "status"})

	syncDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of the last collection pass",
	}, []string{"collection"})

	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last collection pass that reached DONE",
	}, []string{"collection"})

	cursorMoved := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cursor_advanced",
		Help:      "1 if the last pass moved the collection cursor",
	}, []string{"collection"})

	registry.MustRegister(pages, posts, media, syncDuration, lastSuccess, cursorMoved)

	return &Recorder{
		registry:     registry,
		pages:        pages,
		posts:        posts,
		media:        media,
		syncDuration: syncDuration,
		lastSuccess:  lastSuccess,
		cursorMoved:  cursorMoved,
	}
}

func (r *Recorder) ObservePage(collection domain.Collection, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.pages.WithLabelValues(collection.String(), result).Inc()
}

func (r *Recorder) ObserveItem(collection domain.Collection, result domain.ItemResult) {
	r.posts.WithLabelValues(collection.String(), string(result.Outcome)).Inc()
	if result.MediaOK > 0 {
		r.media.WithLabelValues(collection.String(), "ok").Add(float64(result.MediaOK))
	}
	if result.MediaFailed > 0 {
		r.media.WithLabelValues(collection.String(), "failed").Add(float64(result.MediaFailed))
	}
}

func (r *Recorder) ObserveCollection(stats *domain.SyncStats) {
	c := stats.Collection.String()
	r.syncDuration.WithLabelValues(c).Set(stats.Duration.Seconds())

	moved := 0.0
	if stats.CursorAfter != stats.CursorBefore {
		moved = 1
	}
	r.cursorMoved.WithLabelValues(c).Set(moved)

	if stats.State == domain.StateDone {
		r.lastSuccess.WithLabelValues(c).SetToCurrentTime()
	}
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically replaces path with the current metric values.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
