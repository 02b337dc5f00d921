// Package config loads service configuration from defaults, an optional
// sharedetect.yaml, a .env file and SHAREDETECT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/snaplook/scraper"
	"github.com/snaplook/scraper/detection"
	"github.com/snaplook/scraper/storage"
)

const envPrefix = "SHAREDETECT"

// Config holds all configuration for the service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Detection DetectionConfig `mapstructure:"detection"`
	Handoff   HandoffConfig   `mapstructure:"handoff"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig holds HTTP intake settings
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Environment    string        `mapstructure:"environment"`
	LogLevel       string        `mapstructure:"log_level"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ScraperConfig holds extraction and fetch-and-select settings
type ScraperConfig struct {
	HTTPTimeout         time.Duration `mapstructure:"http_timeout"`
	QuickTimeout        time.Duration `mapstructure:"quick_timeout"`
	ResolveTimeout      time.Duration `mapstructure:"resolve_timeout"`
	ReaderTimeout       time.Duration `mapstructure:"reader_timeout"`
	RenderTimeout       time.Duration `mapstructure:"render_timeout"`
	ImageTimeout        time.Duration `mapstructure:"image_timeout"`
	MaxImageSizeBytes   int64         `mapstructure:"max_image_size_bytes"`
	MaxPageSizeBytes    int64         `mapstructure:"max_page_size_bytes"`
	RenderProxyURL      string        `mapstructure:"render_proxy_url"`
	RenderAPIKey        string        `mapstructure:"render_api_key"`
	RenderWaitMillis    int           `mapstructure:"render_wait_millis"`
	ReaderProxyURL      string        `mapstructure:"reader_proxy_url"`
	TikTokOEmbedURL     string        `mapstructure:"tiktok_oembed_url"`
	InstagramRetries    int           `mapstructure:"instagram_retries"`
	InstagramImageIndex int           `mapstructure:"instagram_image_index"`
	CropTolerance       float64       `mapstructure:"crop_tolerance"`
	UserAgent           string        `mapstructure:"user_agent"`
	PatternsFile        string        `mapstructure:"patterns_file"`
}

// StorageConfig selects where saved images go
type StorageConfig struct {
	Type      string `mapstructure:"type"` // "local" or "s3"
	BasePath  string `mapstructure:"base_path"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig holds session persistence settings. An empty DSN disables it.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DetectionConfig holds detection API settings
type DetectionConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	UserID        string        `mapstructure:"user_id"`
	Country       string        `mapstructure:"country"`
	Language      string        `mapstructure:"language"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// HandoffConfig locates the shared container read by the host application.
// An empty Dir disables the handoff.
type HandoffConfig struct {
	Dir      string `mapstructure:"dir"`
	BundleID string `mapstructure:"bundle_id"`
}

// TracingConfig configures OTLP export. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Load reads configuration. configFile may be empty, in which case
// sharedetect.yaml is looked up in the usual places and is optional.
func Load(configFile string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("sharedetect")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sharedetect/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads .env from the working directory. Variables already in
// the environment win.
func loadEnvFile() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	return nil
}

// setDefaults registers every key so environment variables can override it
func setDefaults(v *viper.Viper) {
	sc := scraper.DefaultConfig()
	dc := detection.DefaultConfig()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", "120s")

	v.SetDefault("scraper.http_timeout", sc.HTTPTimeout)
	v.SetDefault("scraper.quick_timeout", sc.QuickTimeout)
	v.SetDefault("scraper.resolve_timeout", sc.ResolveTimeout)
	v.SetDefault("scraper.reader_timeout", sc.ReaderTimeout)
	v.SetDefault("scraper.render_timeout", sc.RenderTimeout)
	v.SetDefault("scraper.image_timeout", sc.ImageTimeout)
	v.SetDefault("scraper.max_image_size_bytes", sc.MaxImageSizeBytes)
	v.SetDefault("scraper.max_page_size_bytes", sc.MaxPageSizeBytes)
	v.SetDefault("scraper.render_proxy_url", sc.RenderProxyURL)
	v.SetDefault("scraper.render_api_key", "")
	v.SetDefault("scraper.render_wait_millis", sc.RenderWaitMillis)
	v.SetDefault("scraper.reader_proxy_url", sc.ReaderProxyURL)
	v.SetDefault("scraper.tiktok_oembed_url", sc.TikTokOEmbedURL)
	v.SetDefault("scraper.instagram_retries", sc.InstagramRetries)
	v.SetDefault("scraper.instagram_image_index", sc.InstagramImageIndex)
	v.SetDefault("scraper.crop_tolerance", sc.CropTolerance)
	v.SetDefault("scraper.user_agent", sc.UserAgent)
	v.SetDefault("scraper.patterns_file", "")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_path", storage.DefaultConfig().BasePath)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.path_style", false)
	v.SetDefault("storage.prefix", "shares")

	v.SetDefault("database.dsn", "")

	v.SetDefault("detection.base_url", "")
	v.SetDefault("detection.user_id", "")
	v.SetDefault("detection.country", dc.Country)
	v.SetDefault("detection.language", dc.Language)
	v.SetDefault("detection.timeout", dc.Timeout)
	v.SetDefault("detection.rate_per_second", dc.RatePerSecond)
	v.SetDefault("detection.burst", dc.Burst)

	v.SetDefault("handoff.dir", "")
	v.SetDefault("handoff.bundle_id", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "sharedetect")
	v.SetDefault("tracing.insecure", true)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server port is required (set %s_SERVER_PORT)", envPrefix)
	}
	if _, err := ParseLogLevel(config.Server.LogLevel); err != nil {
		return err
	}

	switch config.Storage.Type {
	case "local":
		if config.Storage.BasePath == "" {
			return fmt.Errorf("storage base path is required for local storage")
		}
	case "s3":
		if config.Storage.Bucket == "" || config.Storage.Region == "" {
			return fmt.Errorf("bucket and region are required when storage type is 's3'")
		}
	default:
		return fmt.Errorf("storage type must be 'local' or 's3', got: %s", config.Storage.Type)
	}

	if config.Scraper.CropTolerance < 0 {
		return fmt.Errorf("crop tolerance cannot be negative")
	}
	if config.Scraper.InstagramRetries < 0 {
		return fmt.Errorf("instagram retries cannot be negative")
	}

	if config.Handoff.Dir != "" && config.Handoff.BundleID == "" {
		return fmt.Errorf("host bundle id is required when a handoff directory is set (set %s_HANDOFF_BUNDLE_ID)", envPrefix)
	}

	if config.Detection.RatePerSecond < 0 {
		return fmt.Errorf("detection rate cannot be negative")
	}
	return nil
}

// ParseLogLevel maps a level name to a slog level
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// ScraperConfig converts the scraper section into scraper.Config
func (c *Config) ScraperConfig() scraper.Config {
	s := c.Scraper
	return scraper.Config{
		HTTPTimeout:         s.HTTPTimeout,
		QuickTimeout:        s.QuickTimeout,
		ResolveTimeout:      s.ResolveTimeout,
		ReaderTimeout:       s.ReaderTimeout,
		RenderTimeout:       s.RenderTimeout,
		ImageTimeout:        s.ImageTimeout,
		MaxImageSizeBytes:   s.MaxImageSizeBytes,
		MaxPageSizeBytes:    s.MaxPageSizeBytes,
		RenderProxyURL:      s.RenderProxyURL,
		RenderAPIKey:        s.RenderAPIKey,
		RenderWaitMillis:    s.RenderWaitMillis,
		ReaderProxyURL:      s.ReaderProxyURL,
		TikTokOEmbedURL:     s.TikTokOEmbedURL,
		InstagramRetries:    s.InstagramRetries,
		InstagramImageIndex: s.InstagramImageIndex,
		CropTolerance:       s.CropTolerance,
		UserAgent:           s.UserAgent,
	}
}

// DetectionConfig converts the detection section into detection.Config
func (c *Config) DetectionConfig() detection.Config {
	d := c.Detection
	return detection.Config{
		BaseURL:       d.BaseURL,
		UserID:        d.UserID,
		Country:       d.Country,
		Language:      d.Language,
		Timeout:       d.Timeout,
		RatePerSecond: d.RatePerSecond,
		Burst:         d.Burst,
	}
}

// S3Config converts the storage section into storage.S3Config
func (c *Config) S3Config() storage.S3Config {
	s := c.Storage
	return storage.S3Config{
		Endpoint:        s.Endpoint,
		Region:          s.Region,
		Bucket:          s.Bucket,
		AccessKeyID:     s.AccessKey,
		SecretAccessKey: s.SecretKey,
		UsePathStyle:    s.PathStyle,
		Prefix:          s.Prefix,
	}
}
