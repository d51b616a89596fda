// Package config loads service configuration from a YAML file and the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/gsm"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/tweetpilot/tweetpilot/pkg/auth"
	"github.com/tweetpilot/tweetpilot/pkg/llm"
	"github.com/tweetpilot/tweetpilot/pkg/monitor"
	"github.com/tweetpilot/tweetpilot/pkg/ratelimit"
	"github.com/tweetpilot/tweetpilot/pkg/search"
	"github.com/tweetpilot/tweetpilot/pkg/twitter"
)

// EnvPrefix prefixes environment overrides, e.g. TWEETPILOT_TWITTER_BEARER_TOKEN.
const EnvPrefix = "TWEETPILOT"

// secretPrefix marks a value to be read from Google Secret Manager.
const secretPrefix = "gsm:"

// SecretFetcher resolves a named secret.
type SecretFetcher func(ctx context.Context, name string) (string, error)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Twitter   TwitterConfig   `yaml:"twitter"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig configures Postgres. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig configures the shared rate limiter. An empty address keeps limits in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// TwitterConfig configures the X API client.
type TwitterConfig struct {
	BearerToken string        `yaml:"bearer_token"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SearchConfig configures the live search path.
type SearchConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// LLMConfig configures content generation.
type LLMConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig configures session verification.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	Cookie    string   `yaml:"cookie"`
	Admins    []string `yaml:"admins"`
}

// MonitorConfig configures the background loop.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// RateLimitConfig configures per-user generation limits.
type RateLimitConfig struct {
	GenerationsPerHour int `yaml:"generations_per_hour"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("twitter.bearer_token", "")
	v.SetDefault("twitter.base_url", twitter.DefaultBaseURL)
	v.SetDefault("twitter.timeout", twitter.DefaultHTTPTimeout)
	v.SetDefault("search.call_timeout", search.DefaultCallTimeout)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", llm.DefaultBaseURL)
	v.SetDefault("llm.model", llm.DefaultModel)
	v.SetDefault("llm.timeout", llm.DefaultTimeout)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.cookie", auth.DefaultCookieName)
	v.SetDefault("auth.admins", []string{})
	v.SetDefault("monitor.interval", monitor.DefaultInterval)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("ratelimit.generations_per_hour", ratelimit.DefaultGenerationsPerHour)
}

// Load reads configuration from path (or ./config.yaml when path is empty and the file
// exists), applies environment overrides, and resolves gsm: secrets.
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, gsm.Secret)
}

func load(ctx context.Context, path string, fetch SecretFetcher) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("Loaded config file", "component", "config", "file", used)
	}

	decoderOpt := func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.resolveSecrets(ctx, fetch); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveSecrets(ctx context.Context, fetch SecretFetcher) error {
	fields := []struct {
		value *string
		key   string
	}{
		{&c.Database.URL, "database.url"},
		{&c.Redis.Password, "redis.password"},
		{&c.Twitter.BearerToken, "twitter.bearer_token"},
		{&c.LLM.APIKey, "llm.api_key"},
		{&c.Auth.JWTSecret, "auth.jwt_secret"},
	}
	for _, f := range fields {
		name, ok := strings.CutPrefix(*f.value, secretPrefix)
		if !ok {
			continue
		}
		if name == "" {
			return fmt.Errorf("%s: empty secret name", f.key)
		}
		secret, err := fetch(ctx, name)
		if err != nil {
			return fmt.Errorf("%s: fetch secret %q: %w", f.key, name, err)
		}
		*f.value = strings.TrimSpace(secret)
		slog.Debug("Resolved secret", "component", "config", "key", f.key, "secret", name)
	}
	return nil
}

// Validate checks the settings the server needs to start.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Twitter.BearerToken == "" {
		errs = append(errs, errors.New("twitter.bearer_token is required"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Monitor.Enabled && c.Monitor.Interval < time.Minute {
		errs = append(errs, fmt.Errorf("monitor.interval %s is below one minute", c.Monitor.Interval))
	}
	if c.RateLimit.GenerationsPerHour <= 0 {
		errs = append(errs, errors.New("ratelimit.generations_per_hour must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}
