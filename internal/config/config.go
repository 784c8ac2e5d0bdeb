// Package config loads sift configuration from an optional YAML file,
// SIFT_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/FranksOps/sift/internal/bypass"
	"github.com/FranksOps/sift/internal/pacing"
	"github.com/FranksOps/sift/internal/platforms"
	"github.com/FranksOps/sift/pkg/ratelimit"
)

// EnvPrefix prefixes every environment override, e.g. SIFT_JOBS_MAX_LIMIT.
const EnvPrefix = "SIFT"

type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type JobsConfig struct {
	MaxLimit     int           `mapstructure:"max_limit" validate:"gte=1"`
	DefaultLimit int           `mapstructure:"default_limit" validate:"gte=1"`
	GracePeriod  time.Duration `mapstructure:"grace_period" validate:"gte=0"`
	MaxAge       time.Duration `mapstructure:"max_age" validate:"gt=0"`
	ReapInterval string        `mapstructure:"reap_interval" validate:"required"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Backend       string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	SweepInterval string        `mapstructure:"sweep_interval"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
}

// BucketConfig describes a token bucket. MaxRequestsPerMinute is the
// shorthand for capacity N refilled N per minute and applies only when
// Capacity is zero.
type BucketConfig struct {
	Capacity             float64 `mapstructure:"capacity" validate:"gte=0"`
	RefillPerSecond      float64 `mapstructure:"refill_per_second" validate:"gte=0"`
	MaxRequestsPerMinute int     `mapstructure:"max_requests_per_minute" validate:"gte=0"`
	OnExhaustion         string  `mapstructure:"on_exhaustion" validate:"omitempty,oneof=reject wait"`
}

// Limit converts b into a ratelimit.Config.
func (b BucketConfig) Limit() ratelimit.Config {
	policy := ratelimit.Policy(b.OnExhaustion)
	if b.Capacity == 0 && b.MaxRequestsPerMinute > 0 {
		return ratelimit.PerMinute(b.MaxRequestsPerMinute, policy)
	}
	return ratelimit.Config{Capacity: b.Capacity, RefillPerSecond: b.RefillPerSecond, Policy: policy}
}

type RateLimitConfig struct {
	Enabled bool                    `mapstructure:"enabled"`
	Global  BucketConfig            `mapstructure:"global"`
	Source  BucketConfig            `mapstructure:"source"`
	Sources map[string]BucketConfig `mapstructure:"sources" validate:"dive"`
	// Intake bounds job creation; zero capacity admits everything.
	Intake BucketConfig `mapstructure:"intake"`
	// Fetch paces page fetches made for content enrichment.
	Fetch BucketConfig `mapstructure:"fetch"`
}

type RangeConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

type DelayConfig struct {
	Enabled bool                   `mapstructure:"enabled"`
	Min     time.Duration          `mapstructure:"min"`
	Max     time.Duration          `mapstructure:"max"`
	Sources map[string]RangeConfig `mapstructure:"sources"`
}

// Pacing converts d into a pacing.Config.
func (d DelayConfig) Pacing() pacing.Config {
	cfg := pacing.Config{
		Enabled: d.Enabled,
		Default: pacing.Range{Min: d.Min, Max: d.Max},
		Sources: make(map[string]pacing.Range, len(d.Sources)),
	}
	for name, r := range d.Sources {
		cfg.Sources[name] = pacing.Range{Min: r.Min, Max: r.Max}
	}
	return cfg
}

type FetchConfig struct {
	Timeout            time.Duration       `mapstructure:"timeout" validate:"gt=0"`
	Fingerprint        string              `mapstructure:"fingerprint"`
	ProxiesFile        string              `mapstructure:"proxies_file"`
	UserAgents         []string            `mapstructure:"user_agents"`
	UAStrategy         string              `mapstructure:"ua_strategy"`
	RespectRobots      bool                `mapstructure:"respect_robots"`
	ContentConcurrency int                 `mapstructure:"content_concurrency" validate:"gte=0"`
	MaxContentChars    int                 `mapstructure:"max_content_chars" validate:"gte=0"`
	ContentSelectors   map[string][]string `mapstructure:"content_selectors"`
}

type ArchiveConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=none sqlite postgres json csv"`
	DSN     string `mapstructure:"dsn"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Config is the full sift configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Jobs      JobsConfig       `mapstructure:"jobs"`
	Cache     CacheConfig      `mapstructure:"cache"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Delay     DelayConfig      `mapstructure:"delay"`
	Fetch     FetchConfig      `mapstructure:"fetch"`
	Bypass    bypass.Config    `mapstructure:"bypass"`
	Platforms platforms.Config `mapstructure:"platforms"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	Log       LogConfig        `mapstructure:"log"`
}

// SetDefaults registers every default on v. Registering each key also lets
// AutomaticEnv resolve its SIFT_* override during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")

	v.SetDefault("jobs.max_limit", 30)
	v.SetDefault("jobs.default_limit", 10)
	v.SetDefault("jobs.grace_period", time.Second)
	v.SetDefault("jobs.max_age", 30*time.Minute)
	v.SetDefault("jobs.reap_interval", "@every 5m")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.sweep_interval", "@every 1m")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_prefix", "sift:cache:")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.global.capacity", 0)
	v.SetDefault("rate_limit.global.refill_per_second", 0)
	v.SetDefault("rate_limit.global.max_requests_per_minute", 60)
	v.SetDefault("rate_limit.global.on_exhaustion", "reject")
	v.SetDefault("rate_limit.source.capacity", 0)
	v.SetDefault("rate_limit.source.refill_per_second", 0)
	v.SetDefault("rate_limit.source.max_requests_per_minute", 20)
	v.SetDefault("rate_limit.source.on_exhaustion", "reject")
	v.SetDefault("rate_limit.intake.capacity", 0)
	v.SetDefault("rate_limit.intake.refill_per_second", 0)
	v.SetDefault("rate_limit.fetch.capacity", 0)
	v.SetDefault("rate_limit.fetch.refill_per_second", 0)
	v.SetDefault("rate_limit.fetch.on_exhaustion", "wait")

	v.SetDefault("delay.enabled", true)
	v.SetDefault("delay.min", 500*time.Millisecond)
	v.SetDefault("delay.max", 2*time.Second)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.fingerprint", "chrome")
	v.SetDefault("fetch.proxies_file", "")
	v.SetDefault("fetch.ua_strategy", "per_session")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.content_concurrency", 4)
	v.SetDefault("fetch.max_content_chars", 5000)
	v.SetDefault("fetch.content_selectors", map[string][]string{
		"weixin": {"#js_content", ".rich_media_content"},
	})

	def := bypass.DefaultConfig()
	v.SetDefault("bypass.enabled", def.Enabled)
	v.SetDefault("bypass.captcha", def.Captcha)
	v.SetDefault("bypass.ip_ban", def.IPBan)
	v.SetDefault("bypass.rate_limit", def.RateLimit)

	v.SetDefault("platforms.weixin.enabled", true)
	v.SetDefault("platforms.weixin.base_url", "")
	// Opt-in: Sogou puts its zhihu vertical behind anti-crawler checks.
	v.SetDefault("platforms.zhihu.enabled", false)
	v.SetDefault("platforms.zhihu.base_url", "")
	v.SetDefault("platforms.google.enabled", true)
	v.SetDefault("platforms.google.api_key", "")
	v.SetDefault("platforms.google.engine_id", "")
	v.SetDefault("platforms.google.base_url", "")
	v.SetDefault("platforms.google.qps", 1)
	v.SetDefault("platforms.google.per_request", 10)
	v.SetDefault("platforms.google.max_results", 30)
	v.SetDefault("platforms.duckduckgo.enabled", false)
	v.SetDefault("platforms.duckduckgo.base_url", "")

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.dsn", "")
	v.SetDefault("archive.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration into a Config. When path is empty an optional
// sift.yaml in the working directory is used.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sift")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyLegacyEnv(&cfg)
	if cfg.Bypass.Platforms == nil {
		cfg.Bypass.Platforms = bypass.DefaultConfig().Platforms
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv honors the environment variables of earlier deployments.
func applyLegacyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("ANTI_CRAWLER_ENABLED"); ok && strings.EqualFold(strings.TrimSpace(v), "false") {
		cfg.RateLimit.Enabled = false
		cfg.Delay.Enabled = false
	}
	if cfg.Platforms.Google.APIKey == "" {
		cfg.Platforms.Google.APIKey = os.Getenv("APIKEY_GOOGLE_CUSTOM_SEARCH")
	}
	if cfg.Platforms.Google.EngineID == "" {
		cfg.Platforms.Google.EngineID = os.Getenv("APIKEY_GOOGLE_SEARCH_ID")
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, f := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", f.Namespace(), f.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Jobs.DefaultLimit > c.Jobs.MaxLimit {
		return fmt.Errorf("invalid config: jobs.default_limit %d exceeds jobs.max_limit %d", c.Jobs.DefaultLimit, c.Jobs.MaxLimit)
	}
	if c.Delay.Max < c.Delay.Min {
		return fmt.Errorf("invalid config: delay.max %s is below delay.min %s", c.Delay.Max, c.Delay.Min)
	}
	if (c.Archive.Backend == "sqlite" || c.Archive.Backend == "postgres") && c.Archive.DSN == "" {
		return fmt.Errorf("invalid config: archive.dsn is required for the %s backend", c.Archive.Backend)
	}
	if (c.Archive.Backend == "json" || c.Archive.Backend == "csv") && c.Archive.Path == "" {
		return fmt.Errorf("invalid config: archive.path is required for the %s backend", c.Archive.Backend)
	}
	return nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
