// Package config loads and validates sync engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs for a sync run.
type Config struct {
	Job     JobConfig     `mapstructure:"job"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// JobConfig describes the site-specific job: where the targets live,
// how to build page URLs, and how to locate the embedded value.
type JobConfig struct {
	TargetsFile    string   `mapstructure:"targets_file"`
	URLTemplate    string   `mapstructure:"url_template"`
	Marker         string   `mapstructure:"marker"`
	Escaped        bool     `mapstructure:"escaped"`
	FallbackFields []string `mapstructure:"fallback_fields"`
	RequireFields  []string `mapstructure:"require_fields"`
	ExcludeFields  []string `mapstructure:"exclude_fields"`
	CheckpointFile string   `mapstructure:"checkpoint_file"`
	OutputFile     string   `mapstructure:"output_file"`
}

// CrawlConfig governs coordinator behavior.
type CrawlConfig struct {
	Limit              int  `mapstructure:"limit"`
	Offset             int  `mapstructure:"offset"`
	DryRun             bool `mapstructure:"dry_run"`
	Concurrency        int  `mapstructure:"concurrency"`
	MinConcurrency     int  `mapstructure:"min_concurrency"`
	CheckpointInterval int  `mapstructure:"checkpoint_interval"`
	HostDelayMs        int  `mapstructure:"host_delay_ms"`
	BatchPauseMs       int  `mapstructure:"batch_pause_ms"`
}

// HTTPConfig configures the fetch client's identity and retry behavior.
type HTTPConfig struct {
	UserAgent        string            `mapstructure:"user_agent"`
	Headers          map[string]string `mapstructure:"headers"`
	TimeoutSeconds   int               `mapstructure:"timeout_seconds"`
	MaxRetries       int               `mapstructure:"max_retries"`
	BackoffInitialMs int               `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int               `mapstructure:"backoff_max_ms"`
}

// ServerConfig controls the optional status/metrics endpoint.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from a file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WIKISYNC")
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
	v.SetDefault("crawl.limit", 0)
	v.SetDefault("crawl.offset", 0)
	v.SetDefault("crawl.dry_run", false)
	v.SetDefault("crawl.concurrency", 1)
	v.SetDefault("crawl.min_concurrency", 1)
	v.SetDefault("crawl.checkpoint_interval", 25)
	v.SetDefault("crawl.host_delay_ms", 1000)
	v.SetDefault("crawl.batch_pause_ms", 1000)
	v.SetDefault("http.user_agent", "wikisync/0.1")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("job.checkpoint_file", "checkpoint.json")
	v.SetDefault("job.output_file", "output.json")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Job.TargetsFile == "" {
		return fmt.Errorf("job.targets_file is required")
	}
	if c.Job.URLTemplate == "" {
		return fmt.Errorf("job.url_template is required")
	}
	if !strings.Contains(c.Job.URLTemplate, "%s") {
		return fmt.Errorf("job.url_template must contain a %%s locator placeholder")
	}
	if c.Job.Marker == "" {
		return fmt.Errorf("job.marker is required")
	}
	if c.Crawl.Limit < 0 {
		return fmt.Errorf("crawl.limit must be >= 0")
	}
	if c.Crawl.Offset < 0 {
		return fmt.Errorf("crawl.offset must be >= 0")
	}
	if c.Crawl.CheckpointInterval <= 0 {
		return fmt.Errorf("crawl.checkpoint_interval must be > 0")
	}
	if c.Crawl.MinConcurrency <= 0 {
		return fmt.Errorf("crawl.min_concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	return nil
}

// HostDelay returns the inter-request pacing interval.
func (c Config) HostDelay() time.Duration {
	return time.Duration(c.Crawl.HostDelayMs) * time.Millisecond
}

// BatchPause returns the extra pause inserted after a degraded batch.
func (c Config) BatchPause() time.Duration {
	return time.Duration(c.Crawl.BatchPauseMs) * time.Millisecond
}

// HTTPTimeout returns the per-request fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the base delay for exponential retry backoff.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry backoff cap.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
