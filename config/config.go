package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "config/config.yml"

	VariantOI       = "oi"
	VariantPremium  = "premium"
	VariantMomentum = "momentum"

	LayoutDaily   = "daily"
	LayoutRolling = "rolling"

	SpotIndex      = "index"
	SpotUnderlying = "underlying"

	BackendFile  = "file"
	BackendS3    = "s3"
	BackendRedis = "redis"

	SourceNSE   = "nse"
	SourceBybit = "bybit"
)

type Config struct {
	ATMFlow   ATMFlowConfig   `yaml:"atmflow"`
	Source    SourceConfig    `yaml:"source"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Trackers  []TrackerConfig `yaml:"trackers"`
	Quotes    QuotesConfig    `yaml:"quotes"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ATMFlowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Primary  string            `yaml:"primary"`
	Fallback []string          `yaml:"fallback"`
	NSE      NSESourceConfig   `yaml:"nse"`
	Bybit    BybitSourceConfig `yaml:"bybit"`
}

type NSESourceConfig struct {
	BaseURL      string          `yaml:"base_url"`
	Symbol       string          `yaml:"symbol"`
	UserAgent    string          `yaml:"user_agent"`
	Timeout      time.Duration   `yaml:"timeout"`
	HTMLFallback bool            `yaml:"html_fallback"`
	HTMLPath     string          `yaml:"html_path"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type BybitSourceConfig struct {
	BaseURL  string        `yaml:"base_url"`
	BaseCoin string        `yaml:"base_coin"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type SchedulerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Timezone     string        `yaml:"timezone"`
	Bucket       time.Duration `yaml:"bucket"`
}

type TrackerConfig struct {
	Name                    string      `yaml:"name"`
	Variant                 string      `yaml:"variant"`
	Selection               string      `yaml:"selection"`
	WindowSize              int         `yaml:"window_size"`
	StrikeStep              int64       `yaml:"strike_step"`
	PEDeltaPolicy           string      `yaml:"pe_delta_policy"`
	SpotSource              string      `yaml:"spot_source"`
	IndexName               string      `yaml:"index_name"`
	IncludeOITotals         bool        `yaml:"include_oi_totals"`
	Layout                  string      `yaml:"layout"`
	Prefix                  string      `yaml:"prefix"`
	History                 int         `yaml:"history"`
	ResetBaselineOnRollover bool        `yaml:"reset_baseline_on_rollover"`
	Hours                   HoursConfig `yaml:"hours"`
}

type HoursConfig struct {
	Gate  bool   `yaml:"gate"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type QuotesConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Indices  []string `yaml:"indices"`
	Equities []string `yaml:"equities"`
}

type StorageConfig struct {
	Backend string        `yaml:"backend"`
	File    FileConfig    `yaml:"file"`
	S3      S3Config      `yaml:"s3"`
	Redis   RedisConfig   `yaml:"redis"`
	Archive ArchiveConfig `yaml:"archive"`
}

type FileConfig struct {
	Dir string `yaml:"dir"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
	Prefix      string `yaml:"prefix"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Region    string `yaml:"region"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// ResolvePath picks config.<env>.yml over the default path when APP_ENV
// selects one and the caller did not ask for a specific file.
func ResolvePath(path string) string {
	return resolveEnvSpecificPath(path, defaultConfigPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	applyTrackerDefaults(&config)
	if IsProductionLike(AppEnvironment()) {
		config.Logging.Format = "json"
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		ATMFlow: ATMFlowConfig{Name: "atmflow"},
		Source: SourceConfig{
			Primary: SourceNSE,
			NSE: NSESourceConfig{
				BaseURL:      "https://www.nseindia.com",
				Symbol:       "NIFTY",
				UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
				Timeout:      10 * time.Second,
				HTMLFallback: true,
				HTMLPath:     "/option-chain",
				RateLimit:    RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3},
			},
			Bybit: BybitSourceConfig{
				BaseURL:  "https://api.bybit.com",
				BaseCoin: "BTC",
				Timeout:  10 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			Interval:     time.Minute,
			FetchTimeout: 10 * time.Second,
			Timezone:     "Asia/Kolkata",
			Bucket:       time.Minute,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			File:    FileConfig{Dir: "data"},
			Redis:   RedisConfig{KeyPrefix: "atmflow:"},
			Archive: ArchiveConfig{Compression: "snappy", Prefix: "archive"},
		},
		Kafka:     KafkaConfig{Topic: "atmflow.records"},
		Dashboard: DashboardConfig{Enabled: true, Address: ":8501", RefreshInterval: 5 * time.Second, LogHistory: 200, MetricsHistory: 200},
		Channels:  ChannelsConfig{EventBuffer: 256},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "ATMFlow"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func applyEnvOverrides(config *Config) {
	if config.Storage.Backend == BackendS3 || config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
			if config.Metrics.CloudWatch.Region == "" {
				config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
			}
		}
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		config.Storage.S3.Bucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Storage.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Storage.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Kafka.Brokers = brokers
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}
}

func applyTrackerDefaults(config *Config) {
	for i := range config.Trackers {
		t := &config.Trackers[i]
		t.Name = strings.TrimSpace(t.Name)
		t.Variant = strings.ToLower(strings.TrimSpace(t.Variant))
		if t.WindowSize <= 0 {
			t.WindowSize = 5
		}
		if t.StrikeStep <= 0 {
			t.StrikeStep = 50
		}
		if t.Selection == "" {
			t.Selection = "nearest"
		}
		if t.SpotSource == "" {
			t.SpotSource = SpotUnderlying
		}
		if t.Layout == "" {
			t.Layout = LayoutDaily
		}
		if t.Prefix == "" {
			t.Prefix = t.Name
		}
		if t.History <= 0 {
			t.History = 500
		}
		if t.Hours.Start == "" {
			t.Hours.Start = "09:15"
		}
		if t.Hours.End == "" {
			t.Hours.End = "15:30"
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.ATMFlow.Name == "" {
		return fmt.Errorf("atmflow.name is required")
	}

	if cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than 0")
	}
	if cfg.Scheduler.FetchTimeout <= 0 {
		return fmt.Errorf("scheduler.fetch_timeout must be greater than 0")
	}
	if cfg.Scheduler.Bucket < time.Minute || cfg.Scheduler.Bucket%time.Minute != 0 {
		return fmt.Errorf("scheduler.bucket must be a whole number of minutes")
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q is invalid: %w", cfg.Scheduler.Timezone, err)
	}

	sources := append([]string{cfg.Source.Primary}, cfg.Source.Fallback...)
	for _, s := range sources {
		switch s {
		case SourceNSE, SourceBybit:
		default:
			return fmt.Errorf("source %q is not supported", s)
		}
	}
	if cfg.Source.NSE.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("source.nse.rate_limit.requests_per_second must be greater than 0")
	}

	if len(cfg.Trackers) == 0 {
		return fmt.Errorf("at least one tracker is required")
	}
	seen := make(map[string]bool, len(cfg.Trackers))
	for i, t := range cfg.Trackers {
		if t.Name == "" {
			return fmt.Errorf("trackers[%d].name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tracker name %q is duplicated", t.Name)
		}
		seen[t.Name] = true
		if err := validateTracker(t); err != nil {
			return fmt.Errorf("tracker %q: %w", t.Name, err)
		}
	}

	switch cfg.Storage.Backend {
	case BackendFile:
		if cfg.Storage.File.Dir == "" {
			return fmt.Errorf("storage.file.dir is required for the file backend")
		}
	case BackendS3:
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required for the s3 backend")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	case BackendRedis:
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", cfg.Storage.Backend)
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when cloudwatch is enabled")
	}

	return nil
}

func validateTracker(t TrackerConfig) error {
	switch t.Variant {
	case VariantOI, VariantPremium, VariantMomentum:
	default:
		return fmt.Errorf("variant %q is not supported", t.Variant)
	}
	switch strings.ToLower(t.Selection) {
	case "nearest", "fixed", "fixed-offset":
	default:
		return fmt.Errorf("selection %q is not supported", t.Selection)
	}
	switch strings.ToLower(t.PEDeltaPolicy) {
	case "", "signed", "absolute", "abs":
	default:
		return fmt.Errorf("pe_delta_policy %q is not supported", t.PEDeltaPolicy)
	}
	switch t.SpotSource {
	case SpotUnderlying:
	case SpotIndex:
		if t.IndexName == "" {
			return fmt.Errorf("index_name is required when spot_source is index")
		}
	default:
		return fmt.Errorf("spot_source %q is not supported", t.SpotSource)
	}
	switch t.Layout {
	case LayoutDaily, LayoutRolling:
	default:
		return fmt.Errorf("layout %q is not supported", t.Layout)
	}
	if t.Variant == VariantMomentum && t.Layout != LayoutDaily {
		return fmt.Errorf("momentum trackers require the daily layout")
	}
	start, err := ParseClock(t.Hours.Start)
	if err != nil {
		return fmt.Errorf("hours.start: %w", err)
	}
	end, err := ParseClock(t.Hours.End)
	if err != nil {
		return fmt.Errorf("hours.end: %w", err)
	}
	if end < start {
		return fmt.Errorf("hours.end %s is before hours.start %s", t.Hours.End, t.Hours.Start)
	}
	return nil
}

// ParseClock converts HH:MM into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q has an invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q has an invalid minute", s)
	}
	return h*60 + m, nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
