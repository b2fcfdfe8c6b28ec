// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Drivers for the frontier store and the blob-backed stores.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
	DriverLocal  = "local"
	DriverGCS    = "gcs"
)

// Fetcher modes.
const (
	ModeStatic   = "static"
	ModeHeadless = "headless"
	ModeHybrid   = "hybrid"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store          StoreConfig         `mapstructure:"store"`
	Crawl          CrawlConfig         `mapstructure:"crawl"`
	Seed           SeedConfig          `mapstructure:"seed"`
	Snapshot       SnapshotConfig      `mapstructure:"snapshot"`
	Scope          ScopeConfig         `mapstructure:"scope"`
	Fetcher        FetcherConfig       `mapstructure:"fetcher"`
	Download       DownloadConfig      `mapstructure:"download"`
	DB             DBConfig            `mapstructure:"db"`
	PubSub         PubSubConfig        `mapstructure:"pubsub"`
	Server         ServerConfig        `mapstructure:"server"`
	Logging        LoggingConfig       `mapstructure:"logging"`
	Categories     map[string][]string `mapstructure:"categories"`
	CategoriesFile string              `mapstructure:"categories_file"`
}

// StoreConfig selects and tunes the frontier store.
type StoreConfig struct {
	Driver       string        `mapstructure:"driver"`
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	LockKey      string        `mapstructure:"lock_key"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	ChunkSize    int           `mapstructure:"chunk_size"`
}

// CrawlConfig governs the crawl loop.
type CrawlConfig struct {
	// Key namespaces the frontier. Empty derives it from the first seed's host.
	Key             string        `mapstructure:"key"`
	SeedWorker      bool          `mapstructure:"seed_worker"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
	EmptyWait       time.Duration `mapstructure:"empty_wait"`
	StoreBackoff    time.Duration `mapstructure:"store_backoff"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SeedConfig lists start URLs. Env values are comma separated.
type SeedConfig struct {
	URLs []string `mapstructure:"urls"`
	File string   `mapstructure:"file"`
}

// SnapshotConfig selects where frontier snapshots live.
type SnapshotConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// ScopeConfig bounds the crawl by host.
type ScopeConfig struct {
	AllowedDomains []string `mapstructure:"allowed_domains"`
	DenyDomains    []string `mapstructure:"deny_domains"`
}

// FetcherConfig configures page processing and probing.
type FetcherConfig struct {
	Mode           string         `mapstructure:"mode"`
	UserAgent      string         `mapstructure:"user_agent"`
	RespectRobots  bool           `mapstructure:"respect_robots"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	MaxBodyBytes   int            `mapstructure:"max_body_bytes"`
	RPS            float64        `mapstructure:"rps"`
	Burst          int            `mapstructure:"burst"`
	FileExtensions []string       `mapstructure:"file_extensions"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp renderer.
type HeadlessConfig struct {
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	PageLoadDelay      time.Duration `mapstructure:"page_load_delay"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
}

// DownloadConfig configures artifact persistence.
type DownloadConfig struct {
	Driver   string `mapstructure:"driver"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// DBConfig controls access to the content catalog database. Empty DSN disables it.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ContentsTable   string        `mapstructure:"contents_table"`
	VisitsTable     string        `mapstructure:"visits_table"`
}

// PubSubConfig enables outcome publishing when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRONTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a real default are registered empty so AutomaticEnv can fill them.
	for _, key := range []string{
		"store.username", "store.password", "store.key_prefix", "crawl.key", "seed.file",
		"snapshot.bucket", "download.bucket", "db.dsn", "pubsub.project_id", "pubsub.topic",
		"categories_file",
	} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{"seed.urls", "scope.allowed_domains", "scope.deny_domains", "fetcher.file_extensions"} {
		v.SetDefault(key, []string{})
	}
	v.SetDefault("store.driver", DriverRedis)
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("store.max_attempts", 3)
	v.SetDefault("store.retry_backoff", time.Second)
	v.SetDefault("store.dial_timeout", 5*time.Second)
	v.SetDefault("store.read_timeout", 3*time.Second)
	v.SetDefault("store.lock_key", "redis_load_lock")
	v.SetDefault("store.lock_ttl", time.Minute)
	v.SetDefault("store.chunk_size", 500)
	v.SetDefault("crawl.seed_worker", false)
	v.SetDefault("crawl.politeness_delay", time.Second)
	v.SetDefault("crawl.empty_wait", time.Second)
	v.SetDefault("crawl.store_backoff", 5*time.Second)
	v.SetDefault("crawl.max_attempts", 3)
	v.SetDefault("crawl.shutdown_timeout", 30*time.Second)
	v.SetDefault("snapshot.driver", DriverLocal)
	v.SetDefault("snapshot.dir", ".")
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("fetcher.mode", ModeHybrid)
	v.SetDefault("fetcher.user_agent", "frontier-crawler/0.1")
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.timeout", 15*time.Second)
	v.SetDefault("fetcher.max_body_bytes", 10*1024*1024)
	v.SetDefault("fetcher.rps", 2.0)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("fetcher.headless.max_parallel", 1)
	v.SetDefault("fetcher.headless.navigation_timeout", 25*time.Second)
	v.SetDefault("fetcher.headless.page_load_delay", 3*time.Second)
	v.SetDefault("fetcher.headless.promotion_threshold", 1024)
	v.SetDefault("download.driver", DriverLocal)
	v.SetDefault("download.dir", "files")
	v.SetDefault("download.prefix", "files")
	v.SetDefault("download.max_bytes", 100*1024*1024)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.contents_table", "contents")
	v.SetDefault("db.visits_table", "visits")
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.CrawlKey() == "" {
		return fmt.Errorf("crawl.key must be set or derivable from seed.urls")
	}
	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store.addr is required for the redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverRedis, DriverMemory, c.Store.Driver)
	}
	if c.Store.MaxAttempts <= 0 {
		return fmt.Errorf("store.max_attempts must be > 0")
	}
	if c.Crawl.MaxAttempts <= 0 {
		return fmt.Errorf("crawl.max_attempts must be > 0")
	}
	if c.Crawl.SeedWorker && len(c.Seed.URLs) == 0 && c.Seed.File == "" {
		return fmt.Errorf("a seed worker needs seed.urls or seed.file")
	}
	if err := validateBlobDriver("snapshot", c.Snapshot.Driver, c.Snapshot.Dir, c.Snapshot.Bucket); err != nil {
		return err
	}
	if c.Download.Driver != DriverMemory {
		if err := validateBlobDriver("download", c.Download.Driver, c.Download.Dir, c.Download.Bucket); err != nil {
			return err
		}
	}
	switch c.Fetcher.Mode {
	case ModeStatic, ModeHeadless, ModeHybrid:
	default:
		return fmt.Errorf("fetcher.mode must be static, headless or hybrid, got %q", c.Fetcher.Mode)
	}
	if c.Fetcher.Mode != ModeStatic && c.Fetcher.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetcher.headless.max_parallel must be > 0 when headless rendering is used")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return nil
}

func validateBlobDriver(section, driver, dir, bucket string) error {
	switch driver {
	case DriverLocal:
		if dir == "" {
			return fmt.Errorf("%s.dir is required for the local driver", section)
		}
	case DriverGCS:
		if bucket == "" {
			return fmt.Errorf("%s.bucket is required for the gcs driver", section)
		}
	default:
		return fmt.Errorf("%s.driver must be %q or %q, got %q", section, DriverLocal, DriverGCS, driver)
	}
	return nil
}

// CrawlKey returns crawl.key, or the host of the first seed URL.
func (c Config) CrawlKey() string {
	if c.Crawl.Key != "" {
		return c.Crawl.Key
	}
	for _, u := range c.Seed.URLs {
		if host := crawler.Hostname(strings.TrimSpace(u)); host != "" {
			return host
		}
	}
	return ""
}
