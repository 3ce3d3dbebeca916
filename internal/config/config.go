// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mapsight/places-crawler/internal/proxy"
	"github.com/mapsight/places-crawler/internal/scrape"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Searches []scrape.SearchRequest `mapstructure:"searches"`
	Crawler  CrawlerConfig          `mapstructure:"crawler"`
	Browser  BrowserConfig          `mapstructure:"browser"`
	Proxy    ProxyConfig            `mapstructure:"proxy"`
	Captcha  CaptchaConfig          `mapstructure:"captcha"`
	Storage  StorageConfig          `mapstructure:"storage"`
	Sink     SinkConfig             `mapstructure:"sink"`
	PubSub   PubSubConfig           `mapstructure:"pubsub"`
	Logging  LoggingConfig          `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	MaxPlaces          int           `mapstructure:"max_places"`
	IncludeReviews     bool          `mapstructure:"include_reviews"`
	MaxReviews         int           `mapstructure:"max_reviews"`
	DownloadPhotos     bool          `mapstructure:"download_photos"`
	ExtractContactInfo bool          `mapstructure:"extract_contact_info"`
	Concurrency        int           `mapstructure:"concurrency"`
	ItemTimeout        time.Duration `mapstructure:"item_timeout"`
	SearchURLBase      string        `mapstructure:"search_url_base"`
}

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless"`
	UserAgent     string        `mapstructure:"user_agent"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	NavPerHostQPS float64       `mapstructure:"nav_per_host_qps"`
}

// ProxyConfig extends the provisioner knobs with the platform fleet
// endpoint used to issue rotating egress handles.
type ProxyConfig struct {
	proxy.Config `mapstructure:",squash"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// CaptchaConfig controls challenge detection and solving.
type CaptchaConfig struct {
	SolverEnabled bool          `mapstructure:"solver_enabled"`
	APIKey        string        `mapstructure:"api_key"`
	Endpoint      string        `mapstructure:"endpoint"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PollBudget    time.Duration `mapstructure:"poll_budget"`
}

// StorageConfig selects the photo blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
}

// SinkConfig selects the dataset append target.
type SinkConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Path    string `mapstructure:"path"`
}

// PubSubConfig holds metadata for record-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLACES")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.max_places", 100)
	v.SetDefault("crawler.include_reviews", true)
	v.SetDefault("crawler.max_reviews", 50)
	v.SetDefault("crawler.download_photos", false)
	v.SetDefault("crawler.extract_contact_info", false)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.item_timeout", "5m")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout", "60s")
	v.SetDefault("browser.nav_per_host_qps", 0.5)
	v.SetDefault("captcha.solver_enabled", false)
	v.SetDefault("captcha.max_retries", 3)
	v.SetDefault("captcha.base_delay", "2s")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.poll_budget", "2m")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "photos")
	v.SetDefault("sink.backend", "fs")
	v.SetDefault("sink.path", "places.jsonl")
	v.SetDefault("sink.table", "places")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Searches) == 0 {
		return fmt.Errorf("at least one search must be configured")
	}
	for i, search := range c.Searches {
		if strings.TrimSpace(search.Query) == "" {
			return fmt.Errorf("searches[%d].query must not be empty", i)
		}
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxPlaces <= 0 {
		return fmt.Errorf("crawler.max_places must be > 0")
	}
	if c.Crawler.IncludeReviews && c.Crawler.MaxReviews <= 0 {
		return fmt.Errorf("crawler.max_reviews must be > 0 when reviews are enabled")
	}
	if c.Proxy.UseProxy {
		if c.Proxy.Host == "" {
			return fmt.Errorf("proxy.host must be set when the proxy is enabled")
		}
		if c.Proxy.Port <= 0 {
			return fmt.Errorf("proxy.port must be > 0 when the proxy is enabled")
		}
		if c.Proxy.Password == "" {
			return fmt.Errorf("proxy.password must be set when the proxy is enabled")
		}
	}
	if c.Captcha.SolverEnabled && c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha.api_key must be set when the solver is enabled")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "local", "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Sink.Backend {
	case "postgres":
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn must be set for the postgres backend")
		}
	case "fs":
		if c.Sink.Path == "" {
			return fmt.Errorf("sink.path must be set for the fs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown sink.backend %q", c.Sink.Backend)
	}
	return nil
}
