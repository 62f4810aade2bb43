package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "HLSA_"

// Config is the full runtime configuration of the archiver. It is built once in
// main and passed explicitly to the components that need it.
type Config struct {
	Directory       string
	Format          string
	ListFormats     bool
	SkipDownload    bool
	SkipConvert     bool
	DownloadArchive string

	Workers      int
	Attempts     int
	MaxRounds    int
	PollInterval time.Duration

	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	Headers        map[string]string
	UserAgent      string

	FFmpegPath string
	LogLevel   string
	LogFormat  string
	StatusAddr string
	Progress   bool
}

// Default returns a Config with the reference download policy: 10 concurrent
// fetches, 5 attempts per segment and a 50ms reassembly poll.
func Default() Config {
	return Config{
		Directory:      ".",
		Format:         "best",
		Workers:        10,
		Attempts:       5,
		MaxRounds:      10,
		PollInterval:   50 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		RateBurst:      1,
		UserAgent:      "hls-archiver/1.0",
		FFmpegPath:     "ffmpeg",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// yamlConfig mirrors Config with durations as strings.
type yamlConfig struct {
	Directory       string            `yaml:"directory"`
	Format          string            `yaml:"format"`
	SkipConvert     bool              `yaml:"skip_convert"`
	DownloadArchive string            `yaml:"download_archive"`
	Workers         int               `yaml:"workers"`
	Attempts        int               `yaml:"attempts"`
	MaxRounds       int               `yaml:"max_rounds"`
	PollInterval    string            `yaml:"poll_interval"`
	RequestTimeout  string            `yaml:"request_timeout"`
	RateLimit       float64           `yaml:"rate_limit"`
	RateBurst       int               `yaml:"rate_burst"`
	Headers         map[string]string `yaml:"headers"`
	UserAgent       string            `yaml:"user_agent"`
	FFmpegPath      string            `yaml:"ffmpeg"`
	LogLevel        string            `yaml:"log_level"`
	LogFormat       string            `yaml:"log_format"`
	StatusAddr      string            `yaml:"status_addr"`
	Progress        bool              `yaml:"progress"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	override := Config{
		Directory:       yc.Directory,
		Format:          yc.Format,
		SkipConvert:     yc.SkipConvert,
		DownloadArchive: yc.DownloadArchive,
		Workers:         yc.Workers,
		Attempts:        yc.Attempts,
		MaxRounds:       yc.MaxRounds,
		RateLimit:       yc.RateLimit,
		RateBurst:       yc.RateBurst,
		Headers:         yc.Headers,
		UserAgent:       yc.UserAgent,
		FFmpegPath:      yc.FFmpegPath,
		LogLevel:        yc.LogLevel,
		LogFormat:       yc.LogFormat,
		StatusAddr:      yc.StatusAddr,
		Progress:        yc.Progress,
	}
	if yc.PollInterval != "" {
		d, err := time.ParseDuration(yc.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		override.PollInterval = d
	}
	if yc.RequestTimeout != "" {
		d, err := time.ParseDuration(yc.RequestTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		override.RequestTimeout = d
	}

	return cfg.Merge(override), nil
}

// LoadFromEnv applies HLSA_* environment variables to c. Call Load first so a
// .env file is taken into account.
func (c *Config) LoadFromEnv() {
	c.Directory = GetEnv(EnvPrefix+"DIRECTORY", c.Directory)
	c.Format = GetEnv(EnvPrefix+"FORMAT", c.Format)
	c.SkipConvert = GetEnvBool(EnvPrefix+"SKIP_CONVERT", c.SkipConvert)
	c.DownloadArchive = GetEnv(EnvPrefix+"DOWNLOAD_ARCHIVE", c.DownloadArchive)
	c.Workers = GetEnvInt(EnvPrefix+"WORKERS", c.Workers)
	c.Attempts = GetEnvInt(EnvPrefix+"ATTEMPTS", c.Attempts)
	c.MaxRounds = GetEnvInt(EnvPrefix+"MAX_ROUNDS", c.MaxRounds)
	c.PollInterval = GetEnvDuration(EnvPrefix+"POLL_INTERVAL", c.PollInterval)
	c.RequestTimeout = GetEnvDuration(EnvPrefix+"REQUEST_TIMEOUT", c.RequestTimeout)
	c.RateBurst = GetEnvInt(EnvPrefix+"RATE_BURST", c.RateBurst)
	c.UserAgent = GetEnv(EnvPrefix+"USER_AGENT", c.UserAgent)
	c.FFmpegPath = GetEnv(EnvPrefix+"FFMPEG", c.FFmpegPath)
	c.LogLevel = GetEnv(EnvPrefix+"LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnv(EnvPrefix+"LOG_FORMAT", c.LogFormat)
	c.StatusAddr = GetEnv(EnvPrefix+"STATUS_ADDR", c.StatusAddr)
	c.Progress = GetEnvBool(EnvPrefix+"PROGRESS", c.Progress)
	if n := GetEnvInt(EnvPrefix+"RATE_LIMIT", -1); n >= 0 {
		c.RateLimit = float64(n)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Format == "" {
		return errors.New("config: format is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Attempts <= 0 {
		return errors.New("config: attempts must be positive")
	}
	if c.MaxRounds <= 0 {
		return errors.New("config: max_rounds must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: poll_interval must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored; header maps are merged key by key.
func (c Config) Merge(override Config) Config {
	if override.Directory != "" {
		c.Directory = override.Directory
	}
	if override.Format != "" {
		c.Format = override.Format
	}
	if override.ListFormats {
		c.ListFormats = true
	}
	if override.SkipDownload {
		c.SkipDownload = true
	}
	if override.SkipConvert {
		c.SkipConvert = true
	}
	if override.DownloadArchive != "" {
		c.DownloadArchive = override.DownloadArchive
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.Attempts != 0 {
		c.Attempts = override.Attempts
	}
	if override.MaxRounds != 0 {
		c.MaxRounds = override.MaxRounds
	}
	if override.PollInterval != 0 {
		c.PollInterval = override.PollInterval
	}
	if override.RequestTimeout != 0 {
		c.RequestTimeout = override.RequestTimeout
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.RateBurst != 0 {
		c.RateBurst = override.RateBurst
	}
	if len(override.Headers) > 0 {
		merged := make(map[string]string, len(c.Headers)+len(override.Headers))
		for k, v := range c.Headers {
			merged[k] = v
		}
		for k, v := range override.Headers {
			merged[k] = v
		}
		c.Headers = merged
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.FFmpegPath != "" {
		c.FFmpegPath = override.FFmpegPath
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		c.LogFormat = override.LogFormat
	}
	if override.StatusAddr != "" {
		c.StatusAddr = override.StatusAddr
	}
	if override.Progress {
		c.Progress = true
	}
	return c
}
