// Package config loads the scraper configuration from an optional YAML file
// with TVMAZE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/logging"
	"github.com/Sternrassler/tvmaze-scraper/pkg/ratelimit"
	"github.com/Sternrassler/tvmaze-scraper/pkg/retry"
	"github.com/Sternrassler/tvmaze-scraper/pkg/scraper"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TVMAZE_DATABASE_HOST.
const EnvPrefix = "TVMAZE"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	Upstream UpstreamConfig   `mapstructure:"upstream"`
	Retry    retry.Config     `mapstructure:"retry"`
	Scraper  scraper.Config   `mapstructure:"scraper"`
	Database DatabaseConfig   `mapstructure:"database"`
	Redis    RedisConfig      `mapstructure:"redis"`
	Server   ServerConfig     `mapstructure:"server"`
	Log      LogConfig        `mapstructure:"log"`
	Throttle ratelimit.Config `mapstructure:"throttle"`
}

// UpstreamConfig holds TVmaze API settings.
type UpstreamConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig holds PostgreSQL connection details.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the connection URL for pgx.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig holds the response cache settings.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	Database int           `mapstructure:"database"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ServerConfig holds the read API listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Logging converts the section into a logging.Config writing to stderr.
// Call it after Validate.
func (l LogConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(l.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = l.Pretty
	return cfg
}

// Load reads path (optional) and applies environment overrides. With an
// empty path, config.yaml in the working directory is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("%w: upstream.base_url is required", ErrInvalid)
	}
	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("%w: upstream.base_url: %v", ErrInvalid, err)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("%w: upstream.timeout must be > 0", ErrInvalid)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Throttle.Validate(); err != nil {
		return fmt.Errorf("%w: throttle: %v", ErrInvalid, err)
	}
	if c.Scraper.MaxConcurrency < 1 {
		return fmt.Errorf("%w: scraper.max_concurrency must be >= 1 (got %d)", ErrInvalid, c.Scraper.MaxConcurrency)
	}
	if c.Redis.Enabled && c.Redis.TTL <= 0 {
		return fmt.Errorf("%w: redis.ttl must be > 0 when the cache is enabled", ErrInvalid)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range (got %d)", ErrInvalid, c.Server.Port)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.base_url", "http://api.tvmaze.com")
	v.SetDefault("upstream.user_agent", "tvmaze-scraper/0.1.0")
	v.SetDefault("upstream.timeout", 30*time.Second)

	retryDefaults := retry.DefaultConfig()
	v.SetDefault("retry.base_delay", retryDefaults.BaseDelay)
	v.SetDefault("retry.max_delay", retryDefaults.MaxDelay)
	v.SetDefault("retry.max_retries", retryDefaults.MaxRetries)

	throttleDefaults := ratelimit.DefaultConfig()
	v.SetDefault("throttle.rate", throttleDefaults.Rate)
	v.SetDefault("throttle.per", throttleDefaults.Per)

	v.SetDefault("scraper.max_concurrency", scraper.DefaultConfig().MaxConcurrency)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "tvmaze")
	v.SetDefault("database.user", "tvmaze")
	v.SetDefault("database.password", "tvmaze")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
