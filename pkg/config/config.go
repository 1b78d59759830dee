package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database  DatabaseConfig
	Feed      FeedConfig
	Probe     ProbeConfig
	Ingest    IngestConfig
	Redis     RedisConfig
	Server    ServerConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// DatabaseConfig holds database configuration. URL is either a postgres DSN
// or a path to a sqlite file.
type DatabaseConfig struct {
	URL string
}

// FeedConfig holds the upstream endpoints
type FeedConfig struct {
	FeedURL    string
	DetailURL  string
	ProfileURL string
	MediaURL   string
	Flags      int
	Timeout    time.Duration
}

// ProbeConfig configures the external media tools
type ProbeConfig struct {
	FFprobePath string
	FFmpegPath  string
	Timeout     time.Duration
}

// IngestConfig holds the scheduling setup of the ingester
type IngestConfig struct {
	UserQueueCapacity int
	UserInterval      time.Duration
	ScoreLogPath      string
	Schedules         []ScheduleConfig
}

// ScheduleConfig describes one periodic drain of the feed.
type ScheduleConfig struct {
	Name      string        `mapstructure:"name"`
	Interval  time.Duration `mapstructure:"interval"`
	ChunkSize int           `mapstructure:"chunk_size"`
	Rules     []RuleConfig  `mapstructure:"rules"`
}

// RuleConfig is an age window in hours for one enrichment job. Unbounded
// rules never age out, whatever MaxAge says.
type RuleConfig struct {
	Job       string  `mapstructure:"job"`
	MinAge    float64 `mapstructure:"min_age"`
	MaxAge    float64 `mapstructure:"max_age"`
	Unbounded bool    `mapstructure:"unbounded"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Enabled  bool
	CacheTTL time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
	Host string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string
	Format       string // "json" or "text"
	ScalyrFormat bool   // Enable Scalyr-compatible JSON format
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	PrometheusPort    int
	ServiceName       string
}

// Job names known to the ingester.
const (
	JobSizes    = "sizes"
	JobTags     = "tags"
	JobPreviews = "previews"
)

// DefaultSchedules mirrors the cadences the harvester has always run with.
func DefaultSchedules() []ScheduleConfig {
	return []ScheduleConfig{
		{
			Name:      "sizes",
			Interval:  time.Minute,
			ChunkSize: 16,
			Rules: []RuleConfig{
				{Job: JobPreviews, MinAge: 0, MaxAge: 0.5},
				{Job: JobSizes, MinAge: 0, MaxAge: 0.5},
				{Job: JobTags, MinAge: 0, MaxAge: 0.5},
			},
		},
		{
			Name:      "tags.new",
			Interval:  10 * time.Minute,
			ChunkSize: 32,
			Rules:     []RuleConfig{{Job: JobTags, MinAge: 0, MaxAge: 6}},
		},
		{
			Name:      "tags.more",
			Interval:  time.Hour,
			ChunkSize: 64,
			Rules:     []RuleConfig{{Job: JobTags, MinAge: 5, MaxAge: 48}},
		},
		{
			Name:      "tags.week",
			Interval:  24 * time.Hour,
			ChunkSize: 128,
			Rules:     []RuleConfig{{Job: JobTags, MinAge: 47, MaxAge: 24 * 7}},
		},
	}
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("HARVEST")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.harvester")
	viper.AddConfigPath("/etc/harvester")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL: getString("database_url", "harvester.sqlite3"),
		},
		Feed: FeedConfig{
			FeedURL:    getString("feed_url", "https://pr0gramm.com/api/items/get"),
			DetailURL:  getString("detail_url", "https://pr0gramm.com/api/items/info"),
			ProfileURL: getString("profile_url", "https://pr0gramm.com/api/profile/info"),
			MediaURL:   getString("media_url", "https://img.pr0gramm.com/"),
			Flags:      getInt("feed_flags", 7),
			Timeout:    GetDuration("http_timeout", 30*time.Second),
		},
		Probe: ProbeConfig{
			FFprobePath: getString("ffprobe_path", "ffprobe"),
			FFmpegPath:  getString("ffmpeg_path", "ffmpeg"),
			Timeout:     GetDuration("probe_timeout", 30*time.Second),
		},
		Ingest: IngestConfig{
			UserQueueCapacity: getInt("user_queue_capacity", 150000),
			UserInterval:      GetDuration("user_interval", time.Second),
			ScoreLogPath:      getString("score_log_path", ""),
			Schedules:         DefaultSchedules(),
		},
		Redis: RedisConfig{
			URL:      getString("redis_url", ""),
			Enabled:  getString("redis_url", "") != "",
			CacheTTL: GetDuration("cache_ttl", time.Minute),
		},
		Server: ServerConfig{
			Port: getInt("http_server_port", 8080),
			Host: getString("http_server_host", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:        getString("log_level", "INFO"),
			Format:       getString("log_format", "json"),
			ScalyrFormat: getBool("log_scalyr_format", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", true),
			JaegerURL:         getString("jaeger_url", ""),
			PrometheusEnabled: getBool("prometheus_enabled", true),
			PrometheusPort:    getInt("prometheus_port", 9090),
			ServiceName:       getString("service_name", "harvester"),
		},
	}

	if viper.IsSet("schedules") {
		var schedules []ScheduleConfig
		if err := viper.UnmarshalKey("schedules", &schedules); err != nil {
			return nil, fmt.Errorf("error decoding schedules: %w", err)
		}
		cfg.Ingest.Schedules = schedules
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("database_url", "harvester.sqlite3")
	viper.SetDefault("feed_flags", 7)
	viper.SetDefault("http_server_port", 8080)
	viper.SetDefault("http_server_host", "0.0.0.0")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("log_scalyr_format", true)
	viper.SetDefault("user_queue_capacity", 150000)
	viper.SetDefault("telemetry_enabled", true)
	viper.SetDefault("prometheus_enabled", true)
	viper.SetDefault("prometheus_port", 9090)
	viper.SetDefault("service_name", "harvester")
}

func getString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	// Also check environment variable directly
	if val := os.Getenv("HARVEST_" + toEnvKey(key)); val != "" {
		return val
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if val := os.Getenv("HARVEST_" + toEnvKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if val := os.Getenv("HARVEST_" + toEnvKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func toEnvKey(key string) string {
	result := ""
	for _, r := range key {
		switch {
		case r == '-' || r == '_':
			result += "_"
		case r >= 'a' && r <= 'z':
			result += string(r - 'a' + 'A')
		default:
			result += string(r)
		}
	}
	return result
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Feed.FeedURL == "" {
		return fmt.Errorf("feed_url is required")
	}
	if c.Ingest.UserQueueCapacity <= 0 {
		return fmt.Errorf("user_queue_capacity must be positive")
	}
	if c.Ingest.UserInterval <= 0 {
		return fmt.Errorf("user_interval must be positive")
	}
	names := make(map[string]bool, len(c.Ingest.Schedules))
	for _, s := range c.Ingest.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedule without name")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate schedule %s", s.Name)
		}
		names[s.Name] = true
		if s.Interval <= 0 {
			return fmt.Errorf("schedule %s: interval must be positive", s.Name)
		}
		if s.ChunkSize <= 0 || s.ChunkSize > 1000 {
			return fmt.Errorf("schedule %s: chunk_size must be between 1 and 1000", s.Name)
		}
		if len(s.Rules) == 0 {
			return fmt.Errorf("schedule %s: at least one rule is required", s.Name)
		}
		for _, r := range s.Rules {
			switch r.Job {
			case JobSizes, JobTags, JobPreviews:
			default:
				return fmt.Errorf("schedule %s: unknown job %q", s.Name, r.Job)
			}
			if r.MinAge < 0 || (!r.Unbounded && r.MaxAge < r.MinAge) {
				return fmt.Errorf("schedule %s: invalid age window for %s", s.Name, r.Job)
			}
		}
	}
	return nil
}

// GetDuration returns a duration from config key, with default
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	if val := os.Getenv("HARVEST_" + toEnvKey(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}
