package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mastodon_archiver/internal/domain"
)

type Config struct {
	Mastodon MastodonConfig `yaml:"mastodon"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type MastodonConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	AccessToken string        `yaml:"access_token"`
	PageSize    int           `yaml:"page_size" validate:"min=1,max=80"`
	PageDelay   time.Duration `yaml:"page_delay" validate:"min=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxPages    int           `yaml:"max_pages" validate:"min=0"`
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type ArchiveConfig struct {
	Dir              string        `yaml:"dir" validate:"required"`
	MediaTimeout     time.Duration `yaml:"media_timeout" validate:"gt=0"`
	MediaConcurrency int           `yaml:"media_concurrency" validate:"min=1,max=16"`
	MaxMediaSize     int64         `yaml:"max_media_size" validate:"min=0"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite3 postgres"`
	DSN    string `yaml:"dsn"`
}

type SyncConfig struct {
	Collections []string      `yaml:"collections" validate:"min=1,dive,oneof=favorite favorites favourite favourites bookmark bookmarks"`
	Interval    time.Duration `yaml:"interval" validate:"min=0"`
}

// ParsedCollections returns the configured collections in order, without duplicates.
func (s SyncConfig) ParsedCollections() []domain.Collection {
	seen := make(map[domain.Collection]bool)
	var out []domain.Collection
	for _, name := range s.Collections {
		c, ok := domain.ParseCollection(name)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	File  string `yaml:"file"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

func (r RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Load reads the optional YAML file at path, applies environment overrides
// and defaults, and validates the result. A missing file is not an error so
// that the archiver can run from environment variables alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"MASTODON_BASE_URL":     &c.Mastodon.BaseURL,
		"MASTODON_ACCESS_TOKEN": &c.Mastodon.AccessToken,
		"ARCHIVE_DIR":           &c.Archive.Dir,
		"ARCHIVER_DB_DRIVER":    &c.Database.Driver,
		"ARCHIVER_DB_DSN":       &c.Database.DSN,
		"ARCHIVER_LOG_LEVEL":    &c.Log.Level,
		"ARCHIVER_LOG_FILE":     &c.Log.File,
	}
	for env, field := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
}

func (c *Config) setDefaults() {
	if c.Mastodon.PageSize == 0 {
		c.Mastodon.PageSize = 40
	}
	if c.Mastodon.PageDelay == 0 {
		c.Mastodon.PageDelay = 500 * time.Millisecond
	}
	if c.Mastodon.Timeout == 0 {
		c.Mastodon.Timeout = 30 * time.Second
	}
	if c.Mastodon.Retry.MaxAttempts == 0 {
		c.Mastodon.Retry.MaxAttempts = 3
	}
	if c.Mastodon.Retry.InitialBackoff == 0 {
		c.Mastodon.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Mastodon.Retry.MaxBackoff == 0 {
		c.Mastodon.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = "/archive"
	}
	if c.Archive.MediaTimeout == 0 {
		c.Archive.MediaTimeout = 30 * time.Second
	}
	if c.Archive.MediaConcurrency == 0 {
		c.Archive.MediaConcurrency = 1
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = filepath.Join(c.Archive.Dir, "archiver.db")
	}
	if len(c.Sync.Collections) == 0 {
		c.Sync.Collections = []string{"favorites", "bookmarks"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.Archive.Dir, "archiver.log")
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "mastodon_archiver"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "posts.archived"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "archived_posts"
	}
}

// Validate checks the loaded configuration, including the access token.
func (c *Config) Validate() error {
	if err := c.ValidateOffline(); err != nil {
		return err
	}
	if c.Mastodon.AccessToken == "" {
		return errors.New("invalid config: mastodon access token is not set")
	}
	return nil
}

// ValidateOffline checks everything except the access token, for commands
// that never call the API. The token may also be resolved from the OS
// keyring after Load.
func (c *Config) ValidateOffline() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("invalid config: database.dsn is required for driver %s", c.Database.Driver)
	}
	return nil
}
