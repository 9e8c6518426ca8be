package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"mastodon_archiver/internal/domain"
	"mastodon_archiver/internal/service/mocks"
)

type cursorMatcher struct {
	id string
}

func cursorAt(id string) gomock.Matcher {
	return cursorMatcher{id: id}
}

func (m cursorMatcher) Matches(x any) bool {
	c, ok := x.(*domain.SyncCursor)
	return ok && c.LastSeenID != nil && *c.LastSeenID == m.id
}

func (m cursorMatcher) String() string {
	return fmt.Sprintf("cursor at %s", m.id)
}

func fetched(id string, mediaURLs ...string) domain.FetchedPost {
	post := domain.ArchivedPost{ID: id, PostType: domain.CollectionFavorites, Content: "<p>" + id + "</p>"}
	for _, u := range mediaURLs {
		post.Media = append(post.Media, domain.MediaAttachment{PostID: id, RemoteURL: u, MediaType: "image"})
	}
	return domain.FetchedPost{ID: id, Post: post}
}

func page(hasMore bool, next string, posts ...domain.FetchedPost) *domain.Page {
	return &domain.Page{Posts: posts, HasMore: hasMore, NextMaxID: next}
}

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	ctx  context.Context

	source    *mocks.MockSource
	posts     *mocks.MockPostStore
	cursors   *mocks.MockCursorStore
	media     *mocks.MockMediaFetcher
	records   *mocks.MockRecordWriter
	txManager *mocks.MockTransactionManager
	publisher *mocks.MockPublisher
	metrics   *mocks.MockMetrics

	cfg      Config
	archiver *Archiver
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()

	s.source = mocks.NewMockSource(s.ctrl)
	s.posts = mocks.NewMockPostStore(s.ctrl)
	s.cursors = mocks.NewMockCursorStore(s.ctrl)
	s.media = mocks.NewMockMediaFetcher(s.ctrl)
	s.records = mocks.NewMockRecordWriter(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.metrics = mocks.NewMockMetrics(s.ctrl)

	s.metrics.EXPECT().ObservePage(gomock.Any(), gomock.Any()).AnyTimes()
	s.metrics.EXPECT().ObserveItem(gomock.Any(), gomock.Any()).AnyTimes()
	s.metrics.EXPECT().ObserveCollection(gomock.Any()).AnyTimes()

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()

	s.cfg = Config{
		Collections:      []domain.Collection{domain.CollectionFavorites},
		MediaConcurrency: 2,
	}
	s.archiver = s.newArchiver(s.cfg)
}

func (s *SyncServiceTestSuite) newArchiver(cfg Config) *Archiver {
	return NewArchiver(
		s.source,
		s.posts,
		s.cursors,
		s.media,
		s.records,
		s.txManager,
		s.publisher,
		s.metrics,
		zerolog.Nop(),
		cfg,
	)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (s *SyncServiceTestSuite) emptyCursor(collection domain.Collection) {
	s.cursors.EXPECT().Get(gomock.Any(), collection).Return(&domain.SyncCursor{Collection: collection}, nil)
}

func (s *SyncServiceTestSuite) cursorAt(collection domain.Collection, id string) {
	s.cursors.EXPECT().Get(gomock.Any(), collection).Return(&domain.SyncCursor{Collection: collection, LastSeenID: &id}, nil)
}

// expectArchive sets up the happy path for a post without media.
func (s *SyncServiceTestSuite) expectArchive(id string) *gomock.Call {
	s.posts.EXPECT().Contains(gomock.Any(), id).Return(false, nil)
	s.records.EXPECT().WritePostIfAbsent(gomock.Any()).Return(true, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	return s.posts.EXPECT().InsertIfAbsent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, post *domain.ArchivedPost) (bool, error) {
			s.Equal(id, post.ID)
			return true, nil
		},
	)
}

func (s *SyncServiceTestSuite) TestRun_ArchivesOldestFirstAcrossPages() {
	s.emptyCursor(domain.CollectionFavorites)
	gomock.InOrder(
		s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
			Return(page(true, "p2", fetched("P3"), fetched("P2")), nil),
		s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "p2").
			Return(page(false, "", fetched("P1")), nil),
	)

	gomock.InOrder(
		s.expectArchive("P1"),
		s.cursors.EXPECT().Set(gomock.Any(), cursorAt("P1")).Return(nil),
		s.expectArchive("P2"),
		s.cursors.EXPECT().Set(gomock.Any(), cursorAt("P2")).Return(nil),
		s.expectArchive("P3"),
		s.cursors.EXPECT().Set(gomock.Any(), cursorAt("P3")).Return(nil),
	)

	summary, err := s.archiver.Run(s.ctx)

	s.Require().NoError(err)
	s.False(summary.Aborted)
	s.NotEmpty(summary.RunID)
	s.Equal(3, summary.TotalArchived())
	s.Require().Len(summary.Collections, 1)
	stats := summary.Collections[0]
	s.Equal(domain.StateDone, stats.State)
	s.Equal(2, stats.Pages)
	s.Equal("", stats.CursorBefore)
	s.Equal("P3", stats.CursorAfter)
}

func (s *SyncServiceTestSuite) TestSync_StopsAtBoundary() {
	s.cursorAt(domain.CollectionFavorites, "X")
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(true, "W", fetched("Y"), fetched("X"), fetched("W")), nil)

	s.expectArchive("Y")
	s.cursors.EXPECT().Set(gomock.Any(), cursorAt("Y")).Return(nil)

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(1, stats.Archived)
	s.Equal(1, stats.Pages)
	s.Equal("X", stats.CursorBefore)
	s.Equal("Y", stats.CursorAfter)
}

func (s *SyncServiceTestSuite) TestSync_NoNewPosts() {
	s.cursorAt(domain.CollectionFavorites, "X")
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(true, "W", fetched("X"), fetched("W")), nil)

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(domain.StateDone, stats.State)
	s.Equal(0, stats.Archived)
	s.Equal("X", stats.CursorAfter)
}

func (s *SyncServiceTestSuite) TestSync_AlreadyArchivedIsSkipped() {
	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(false, "", fetched("B"), fetched("A")), nil)

	s.posts.EXPECT().Contains(gomock.Any(), "A").Return(true, nil)
	s.cursors.EXPECT().Set(gomock.Any(), cursorAt("A")).Return(nil)
	s.expectArchive("B")
	s.cursors.EXPECT().Set(gomock.Any(), cursorAt("B")).Return(nil)

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(1, stats.Archived)
	s.Equal(1, stats.Skipped)
	s.Equal(domain.OutcomeSkipped, stats.Results[0].Outcome)
	s.Equal("already archived", stats.Results[0].Reason)
}

func (s *SyncServiceTestSuite) TestSync_AuthErrorAbortsWithoutCursorWrite() {
	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(nil, domain.AuthError("fetch favorite page", 401))

	summary, err := s.archiver.Run(s.ctx)

	s.Require().Error(err)
	s.True(domain.IsKind(err, domain.KindAuth))
	s.True(summary.Aborted)
	s.Equal(domain.StateAborted, summary.Collections[0].State)
}

func (s *SyncServiceTestSuite) TestSync_PageErrorArchivesCollectedButHoldsCursor() {
	s.emptyCursor(domain.CollectionFavorites)
	gomock.InOrder(
		s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
			Return(page(true, "n", fetched("P3"), fetched("P2")), nil),
		s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "n").
			Return(nil, domain.TransientNetworkError("fetch favorite page", 503, errors.New("unavailable"))),
	)
	s.expectArchive("P2")
	s.expectArchive("P3")

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(domain.StateDone, stats.State)
	s.Equal(2, stats.Archived)
	s.Equal(1, stats.PageErrors)
	s.Equal("", stats.CursorAfter)
}

func (s *SyncServiceTestSuite) TestSync_PageLimitHoldsCursor() {
	archiver := s.newArchiver(Config{Collections: s.cfg.Collections, MaxPages: 1})
	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(true, "n", fetched("P2")), nil)
	s.expectArchive("P2")

	stats, err := archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(1, stats.Archived)
	s.Equal("", stats.CursorAfter)
}

func (s *SyncServiceTestSuite) TestSync_MediaFailureDegradesAttachment() {
	const (
		okURL     = "https://files.example/ok.png"
		brokenURL = "https://files.example/broken.png"
	)
	local := "media/M_12345678.png"

	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(false, "", fetched("M", okURL, brokenURL)), nil)

	s.posts.EXPECT().Contains(gomock.Any(), "M").Return(false, nil)
	s.media.EXPECT().Fetch(gomock.Any(), "M", okURL).
		Return(domain.MediaResult{Status: domain.DownloadStatusOK, LocalPath: &local, MimeType: "image/png"})
	s.media.EXPECT().Fetch(gomock.Any(), "M", brokenURL).
		Return(domain.MediaResult{Status: domain.DownloadStatusFallback, Err: domain.MediaDownloadError(brokenURL, 404, nil)})

	s.records.EXPECT().WritePostIfAbsent(gomock.Any()).DoAndReturn(func(post *domain.ArchivedPost) (bool, error) {
		s.Require().Len(post.Media, 2)
		s.Equal(local, *post.Media[0].LocalPath)
		s.Equal(domain.DownloadStatusOK, post.Media[0].DownloadStatus)
		s.Nil(post.Media[1].LocalPath)
		s.Equal(domain.DownloadStatusFallback, post.Media[1].DownloadStatus)
		return true, nil
	})
	s.posts.EXPECT().InsertIfAbsent(gomock.Any(), gomock.Any()).Return(true, nil)
	s.posts.EXPECT().InsertMedia(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	s.cursors.EXPECT().Set(gomock.Any(), cursorAt("M")).Return(nil)

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(1, stats.Archived)
	s.Equal(1, stats.MediaOK)
	s.Equal(1, stats.MediaFailed)
}

func (s *SyncServiceTestSuite) TestSync_InvalidRecordIsSkippedAndHoldsCursor() {
	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(false, "",
			fetched("B"),
			domain.FetchedPost{ID: "A", Invalid: errors.New("account.id is required")},
		), nil)

	s.expectArchive("B")
	s.cursors.EXPECT().Set(gomock.Any(), gomock.Any()).Times(0)

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(1, stats.Archived)
	s.Equal("invalid record", stats.Results[0].Reason)
	s.Equal("", stats.CursorAfter)
}

func (s *SyncServiceTestSuite) TestSync_StoreUnavailableAborts() {
	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(false, "", fetched("A")), nil)

	s.posts.EXPECT().Contains(gomock.Any(), "A").Return(false, nil)
	s.records.EXPECT().WritePostIfAbsent(gomock.Any()).Return(true, nil)
	s.posts.EXPECT().InsertIfAbsent(gomock.Any(), gomock.Any()).
		Return(false, domain.StoreUnavailableError("insert post A", errors.New("disk I/O error")))

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().Error(err)
	s.True(domain.IsKind(err, domain.KindStoreUnavailable))
	s.Equal(domain.StateAborted, stats.State)
	s.Equal(1, stats.Failed)
}

func (s *SyncServiceTestSuite) TestSync_IntegrityErrorCountsAsArchived() {
	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(false, "", fetched("A")), nil)

	s.posts.EXPECT().Contains(gomock.Any(), "A").Return(false, nil)
	s.records.EXPECT().WritePostIfAbsent(gomock.Any()).Return(false, nil)
	s.posts.EXPECT().InsertIfAbsent(gomock.Any(), gomock.Any()).
		Return(false, domain.StoreIntegrityError("insert post A", errors.New("UNIQUE constraint failed")))
	s.cursors.EXPECT().Set(gomock.Any(), cursorAt("A")).Return(nil)

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal("already archived", stats.Results[0].Reason)
}

func (s *SyncServiceTestSuite) TestSync_FailedItemHoldsCursorForRestOfPass() {
	s.emptyCursor(domain.CollectionFavorites)
	s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
		Return(page(false, "", fetched("P3"), fetched("P2"), fetched("P1")), nil)

	gomock.InOrder(
		s.expectArchive("P1"),
		s.cursors.EXPECT().Set(gomock.Any(), cursorAt("P1")).Return(nil),
	)
	s.posts.EXPECT().Contains(gomock.Any(), "P2").Return(false, nil)
	s.records.EXPECT().WritePostIfAbsent(gomock.Any()).Return(false, errors.New("no space left on device"))
	s.expectArchive("P3")

	stats, err := s.archiver.SyncCollection(s.ctx, domain.CollectionFavorites)

	s.Require().NoError(err)
	s.Equal(2, stats.Archived)
	s.Equal(1, stats.Failed)
	s.Equal("P1", stats.CursorAfter)
}

func (s *SyncServiceTestSuite) TestRun_SyncsCollectionsInOrder() {
	archiver := s.newArchiver(Config{Collections: domain.Collections})

	gomock.InOrder(
		s.cursors.EXPECT().Get(gomock.Any(), domain.CollectionFavorites).
			Return(&domain.SyncCursor{Collection: domain.CollectionFavorites}, nil),
		s.source.EXPECT().FetchPage(gomock.Any(), domain.CollectionFavorites, "").
			Return(page(false, ""), nil),
		s.cursors.EXPECT().Get(gomock.Any(), domain.CollectionBookmarks).
			Return(nil, domain.StoreUnavailableError("get cursor bookmark", errors.New("database is locked"))),
	)

	summary, err := archiver.Run(s.ctx)

	s.Require().Error(err)
	s.True(summary.Aborted)
	s.Require().Len(summary.Collections, 2)
	s.Equal(domain.StateDone, summary.Collections[0].State)
	s.Equal(domain.StateAborted, summary.Collections[1].State)
}
