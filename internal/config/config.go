package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Server   ServerConfig   `yaml:"server"`
	Sources  SourcesConfig  `yaml:"sources"`
	Sync     SyncConfig     `yaml:"sync"`
	LogQueue LogQueueConfig `yaml:"log_queue"`
	LogLevel string         `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// MongoConfig configures the best-effort document mirror. An empty URI
// disables mirroring.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type SourcesConfig struct {
	NVD  FeedConfig `yaml:"nvd"`
	MISP FeedConfig `yaml:"misp"`
	RSS  RSSConfig  `yaml:"rss"`
}

type FeedConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	PageSize     int           `yaml:"page_size"`
	Timeout      time.Duration `yaml:"timeout"`
	LookbackDays int           `yaml:"lookback_days"`
	Locale       string        `yaml:"locale"`
}

type RSSConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Feeds        []string      `yaml:"feeds"`
	Timeout      time.Duration `yaml:"timeout"`
	LookbackDays int           `yaml:"lookback_days"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MaxPagesPerCycle int           `yaml:"max_pages_per_cycle"`
	MaxCycleDuration time.Duration `yaml:"max_cycle_duration"`
}

type LogQueueConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxPublishes  int           `yaml:"max_publishes"`
	Retry         RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "intel_fetcher"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "ingest_events"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "ingest_events"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Sources.NVD.PageSize == 0 {
		c.Sources.NVD.PageSize = 2000
	}
	if c.Sources.NVD.Timeout == 0 {
		c.Sources.NVD.Timeout = 30 * time.Second
	}
	if c.Sources.NVD.LookbackDays == 0 {
		c.Sources.NVD.LookbackDays = 30
	}
	if c.Sources.NVD.Locale == "" {
		c.Sources.NVD.Locale = "en"
	}
	if c.Sources.MISP.PageSize == 0 {
		c.Sources.MISP.PageSize = 500
	}
	if c.Sources.MISP.Timeout == 0 {
		c.Sources.MISP.Timeout = 30 * time.Second
	}
	if c.Sources.MISP.LookbackDays == 0 {
		c.Sources.MISP.LookbackDays = 7
	}
	if c.Sources.RSS.Timeout == 0 {
		c.Sources.RSS.Timeout = 30 * time.Second
	}
	if c.Sources.RSS.LookbackDays == 0 {
		c.Sources.RSS.LookbackDays = 7
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 2 * time.Hour
	}
	if c.Sync.MaxPagesPerCycle == 0 {
		c.Sync.MaxPagesPerCycle = 10
	}
	if c.Sync.MaxCycleDuration == 0 {
		c.Sync.MaxCycleDuration = 5 * time.Minute
	}
	if c.LogQueue.BatchSize == 0 {
		c.LogQueue.BatchSize = 50
	}
	if c.LogQueue.BufferSize == 0 {
		c.LogQueue.BufferSize = 1000
	}
	if c.LogQueue.FlushInterval == 0 {
		c.LogQueue.FlushInterval = 5 * time.Second
	}
	if c.LogQueue.MaxPublishes == 0 {
		c.LogQueue.MaxPublishes = 40
	}
	if c.LogQueue.Retry.MaxAttempts == 0 {
		c.LogQueue.Retry.MaxAttempts = 3
	}
	if c.LogQueue.Retry.InitialBackoff == 0 {
		c.LogQueue.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.LogQueue.Retry.MaxBackoff == 0 {
		c.LogQueue.Retry.MaxBackoff = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
