package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mastodon_archiver/internal/config"
	"mastodon_archiver/internal/credentials"
	"mastodon_archiver/internal/logger"
	"mastodon_archiver/internal/media"
	"mastodon_archiver/internal/metrics"
	"mastodon_archiver/internal/publisher"
	"mastodon_archiver/internal/service"
	"mastodon_archiver/internal/source/mastodon"
	"mastodon_archiver/internal/storage/files"
	"mastodon_archiver/internal/storage/sqlstore"
)

// loadConfig reads the config file and applies command line overrides. The
// access token falls back to the OS keyring.
func loadConfig(opts *rootOptions, requireToken bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if cfg.Mastodon.AccessToken == "" && cfg.Mastodon.BaseURL != "" {
		if token, err := credentials.NewStore().Get(cfg.Mastodon.BaseURL); err == nil {
			cfg.Mastodon.AccessToken = token
		}
	}

	validate := cfg.Validate
	if !requireToken {
		validate = cfg.ValidateOffline
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the components of one archiver process.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	db        *sqlx.DB
	files     *files.Store
	posts     *sqlstore.PostStore
	cursors   *sqlstore.CursorStore
	publisher *publisher.RabbitMQ
	metrics   *metrics.Recorder
}

func openApp(ctx context.Context, cfg *config.Config, console io.Writer) (*app, error) {
	a := &app{cfg: cfg}

	store, err := files.New(cfg.Archive.Dir)
	if err != nil {
		return nil, err
	}
	a.files = store

	log, closer, err := logger.New(cfg.Log, console)
	if err != nil {
		return nil, err
	}
	a.logger = log
	a.logCloser = closer

	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.db = db

	if err := sqlstore.Migrate(ctx, db, log); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate archive database: %w", err)
	}

	a.posts = sqlstore.NewPostStore(db)
	a.cursors = sqlstore.NewCursorStore(db)
	a.metrics = metrics.NewRecorder()

	return a, nil
}

// connectPublisher enables the optional RabbitMQ notifications.
func (a *app) connectPublisher() error {
	if !a.cfg.RabbitMQ.Enabled() {
		return nil
	}
	pub, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        a.cfg.RabbitMQ.URL,
		Exchange:   a.cfg.RabbitMQ.Exchange,
		RoutingKey: a.cfg.RabbitMQ.RoutingKey,
		QueueName:  a.cfg.RabbitMQ.QueueName,
	}, a.logger)
	if err != nil {
		return err
	}
	a.publisher = pub
	return nil
}

func (a *app) newArchiver() *service.Archiver {
	cfg := a.cfg

	reader := mastodon.NewReader(mastodon.Config{
		BaseURL:        cfg.Mastodon.BaseURL,
		AccessToken:    cfg.Mastodon.AccessToken,
		PageSize:       cfg.Mastodon.PageSize,
		Timeout:        cfg.Mastodon.Timeout,
		MaxAttempts:    cfg.Mastodon.Retry.MaxAttempts,
		InitialBackoff: cfg.Mastodon.Retry.InitialBackoff,
		MaxBackoff:     cfg.Mastodon.Retry.MaxBackoff,
	}, mastodon.NewIntervalPacer(cfg.Mastodon.PageDelay), a.logger)

	fetcher := media.NewFetcher(media.Config{
		Timeout:   cfg.Archive.MediaTimeout,
		MaxSize:   cfg.Archive.MaxMediaSize,
		UserAgent: mastodon.UserAgent,
	}, a.posts, a.files, a.logger)

	var pub service.Publisher
	if a.publisher != nil {
		pub = a.publisher
	}

	return service.NewArchiver(
		reader,
		a.posts,
		a.cursors,
		fetcher,
		a.files,
		sqlstore.NewTransactionManager(a.db),
		pub,
		a.metrics,
		a.logger,
		service.Config{
			Collections:      cfg.Sync.ParsedCollections(),
			MaxPages:         cfg.Mastodon.MaxPages,
			MediaConcurrency: cfg.Archive.MediaConcurrency,
		},
	)
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
