// Package config loads and validates fetchqueue configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
	"github.com/JakeFAU/fetchqueue/internal/storage/gcs"
	"github.com/JakeFAU/fetchqueue/internal/storage/local"
)

// EnvPrefix prefixes every environment override, e.g. FETCHQUEUE_SERVER_PORT.
const EnvPrefix = "FETCHQUEUE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Progress ProgressConfig `mapstructure:"progress"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	OTel     OTelConfig     `mapstructure:"otel"`
}

// EngineConfig mirrors crawler.Options.
type EngineConfig struct {
	MaxConnections     int                      `mapstructure:"max_connections"`
	PriorityRange      int                      `mapstructure:"priority_range"`
	LimiterConcurrency int                      `mapstructure:"limiter_concurrency"`
	RateLimit          time.Duration            `mapstructure:"rate_limit"`
	RateLimits         map[string]time.Duration `mapstructure:"rate_limits"`
	Method             string                   `mapstructure:"method"`
	Priority           int                      `mapstructure:"priority"`
	Retries            int                      `mapstructure:"retries"`
	RetryTimeout       time.Duration            `mapstructure:"retry_timeout"`
	Timeout            time.Duration            `mapstructure:"timeout"`
	ForceUTF8          bool                     `mapstructure:"force_utf8"`
	IncomingEncoding   string                   `mapstructure:"incoming_encoding"`
	// Document is one of none, default or environment.
	Document            string `mapstructure:"document"`
	NormalizeWhitespace bool   `mapstructure:"normalize_whitespace"`
	SkipDuplicates      bool   `mapstructure:"skip_duplicates"`
	// Download is empty (off) or "hashed".
	Download      string            `mapstructure:"download"`
	UserAgent     string            `mapstructure:"user_agent"`
	UserAgents    []string          `mapstructure:"user_agents"`
	RotateUA      bool              `mapstructure:"rotate_ua"`
	Referer       string            `mapstructure:"referer"`
	Proxies       []string          `mapstructure:"proxies"`
	ProxyRotation string            `mapstructure:"proxy_rotation"`
	Cookie        string            `mapstructure:"cookie"`
	Headers       map[string]string `mapstructure:"headers"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures the outbound transport.
type HTTPConfig struct {
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	TLSTimeout      time.Duration `mapstructure:"tls_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
}

// HeadlessConfig configures the environment-emulating document capability.
type HeadlessConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	HelperScripts []string      `mapstructure:"helper_scripts"`
}

// StorageConfig selects the download sink.
type StorageConfig struct {
	// Backend is local, gcs or none.
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// ProgressConfig controls the lifecycle event hub and its sinks.
type ProgressConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	LogEnabled        bool        `mapstructure:"log_enabled"`
	PrometheusEnabled bool        `mapstructure:"prometheus_enabled"`
	BufferSize        int         `mapstructure:"buffer_size"`
	Batch             BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs     int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig bounds one progress flush.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// DatabaseConfig controls the Postgres request event log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds the topic lifecycle events are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// OTelConfig toggles tracing. Spans are exported to Cloud Trace in ProjectID.
type OTelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	def := crawler.DefaultOptions()
	v.SetDefault("engine.max_connections", def.MaxConnections)
	v.SetDefault("engine.priority_range", def.PriorityRange)
	v.SetDefault("engine.limiter_concurrency", def.LimiterConcurrency)
	v.SetDefault("engine.rate_limit", time.Duration(0))
	v.SetDefault("engine.method", def.Method)
	v.SetDefault("engine.priority", def.Priority)
	v.SetDefault("engine.retries", def.Retries)
	v.SetDefault("engine.retry_timeout", def.RetryDelay)
	v.SetDefault("engine.timeout", def.Timeout)
	v.SetDefault("engine.force_utf8", false)
	v.SetDefault("engine.document", "default")
	v.SetDefault("engine.skip_duplicates", false)
	v.SetDefault("engine.user_agent", def.UserAgent)
	v.SetDefault("engine.rotate_ua", false)
	v.SetDefault("engine.proxy_rotation", "never")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.dial_timeout", 10*time.Second)
	v.SetDefault("http.tls_timeout", 15*time.Second)
	v.SetDefault("http.max_idle_conns", 100)
	v.SetDefault("http.follow_redirects", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 500)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("database.table", "request_events")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("logging.development", true)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "fetchqueue")
}

// Validate enforces required values and reasonable limits. All violations
// are reported together.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Engine.MaxConnections <= 0 {
		errs = append(errs, errors.New("engine.max_connections must be > 0"))
	}
	if c.Engine.PriorityRange <= 0 {
		errs = append(errs, errors.New("engine.priority_range must be > 0"))
	}
	if c.Engine.Retries < 0 {
		errs = append(errs, errors.New("engine.retries must be >= 0"))
	}
	if c.Engine.RateLimit < 0 {
		errs = append(errs, errors.New("engine.rate_limit must be >= 0"))
	}
	if _, err := documentMode(c.Engine.Document, c.Engine.NormalizeWhitespace); err != nil {
		errs = append(errs, err)
	}
	if _, err := downloadMode(c.Engine.Download); err != nil {
		errs = append(errs, err)
	}
	if _, err := proxyRotation(c.Engine.ProxyRotation); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.Document == "environment" && !c.Headless.Enabled {
		errs = append(errs, errors.New("engine.document=environment requires headless.enabled"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	switch c.Storage.Backend {
	case "", "none":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			errs = append(errs, errors.New("storage.local.base_dir is required for the local backend"))
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("storage.gcs.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if d, err := downloadMode(c.Engine.Download); err == nil && d.Enabled() && (c.Storage.Backend == "" || c.Storage.Backend == "none") {
		errs = append(errs, errors.New("engine.download requires a storage.backend"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.OTel.Enabled && c.OTel.ProjectID == "" {
		errs = append(errs, errors.New("otel.project_id is required when otel is enabled"))
	}
	return errors.Join(errs...)
}

// Options converts the engine section into crawler options.
func (c EngineConfig) Options() (crawler.Options, error) {
	doc, err := documentMode(c.Document, c.NormalizeWhitespace)
	if err != nil {
		return crawler.Options{}, err
	}
	download, err := downloadMode(c.Download)
	if err != nil {
		return crawler.Options{}, err
	}
	rotation, err := proxyRotation(c.ProxyRotation)
	if err != nil {
		return crawler.Options{}, err
	}
	var headers http.Header
	if len(c.Headers) > 0 {
		headers = http.Header{}
		for k, v := range c.Headers {
			headers.Set(k, v)
		}
	}
	return crawler.Options{
		MaxConnections:     c.MaxConnections,
		PriorityRange:      c.PriorityRange,
		LimiterConcurrency: c.LimiterConcurrency,
		RateLimit:          c.RateLimit,
		RateLimits:         c.RateLimits,
		Method:             c.Method,
		Priority:           c.Priority,
		Retries:            c.Retries,
		RetryDelay:         c.RetryTimeout,
		Timeout:            c.Timeout,
		ForceUTF8:          c.ForceUTF8,
		IncomingEncoding:   c.IncomingEncoding,
		Document:           doc,
		SkipDuplicates:     c.SkipDuplicates,
		Download:           download,
		UserAgent:          c.UserAgent,
		UserAgents:         c.UserAgents,
		RotateUA:           c.RotateUA,
		Referer:            c.Referer,
		Proxies:            c.Proxies,
		ProxyRotation:      rotation,
		Cookie:             c.Cookie,
		Headers:            headers,
	}, nil
}

func documentMode(name string, normalize bool) (crawler.DocumentMode, error) {
	cfg := crawler.DocumentConfig{NormalizeWhitespace: normalize}
	switch strings.ToLower(name) {
	case "", "default":
		return crawler.DefaultDocument(cfg), nil
	case "none", "disabled":
		return crawler.NoDocument(), nil
	case "environment":
		return crawler.EnvironmentDocument(cfg), nil
	default:
		return crawler.DocumentMode{}, fmt.Errorf("unknown engine.document %q", name)
	}
}

func downloadMode(name string) (crawler.Download, error) {
	switch strings.ToLower(name) {
	case "", "off":
		return crawler.Download{Kind: crawler.DownloadOff}, nil
	case "hashed":
		return crawler.SaveHashed(), nil
	default:
		return crawler.Download{}, fmt.Errorf("unknown engine.download %q", name)
	}
}

func proxyRotation(name string) (crawler.ProxyRotation, error) {
	switch strings.ToLower(name) {
	case "", "never":
		return crawler.RotateNever, nil
	case "on_retry":
		return crawler.RotateOnRetry, nil
	default:
		return crawler.RotateNever, fmt.Errorf("unknown engine.proxy_rotation %q", name)
	}
}
