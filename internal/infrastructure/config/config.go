package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	HTTP         HTTPConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	JWT          JWTConfig
	Telemetry    TelemetryConfig
	Reliability  ReliabilityConfig
	Sync         SyncConfig
	Fulfillment  FulfillmentConfig
	Scheduler    SchedulerConfig
	Marketplaces map[marketplace.Name]MarketplaceConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Version string
	Env     string `validate:"oneof=development test staging production"`
	Port    string `validate:"required,numeric"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string `validate:"required"`
	Port            int    `validate:"min=1,max=65535"`
	User            string `validate:"required"`
	Password        string
	DBName          string `validate:"required"`
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// AutoMigrate applies the embedded migrations at startup
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings.
// An empty Host disables Redis and the in-memory idempotency store is used.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Required refuses to start on in-memory claims when Redis is down
	Required bool
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds the admin API bearer token settings
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	TrustedProxies   []string
	// RequestTimeout bounds every API request except sync runs
	RequestTimeout time.Duration

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to export traces
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	// MetricsExporter is "otlp", "prometheus" or "none"
	MetricsExporter string `validate:"oneof=otlp prometheus none"`
	MetricsInterval time.Duration
	// Database tracing options
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// ReliabilityConfig holds retry and circuit breaker settings
type ReliabilityConfig struct {
	MaxRetries        int `validate:"min=0"`
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Multiplier        float64 `validate:"gte=1"`
	FailureThreshold  int     `validate:"min=1"`
	ResetTimeout      time.Duration
	DefaultRetryAfter time.Duration
	MaxPause          time.Duration
}

// SyncConfig holds product synchronization settings
type SyncConfig struct {
	BatchSize         int `validate:"min=1"`
	MaxProducts       int `validate:"min=1"`
	ImportInterval    time.Duration
	SweepInterval     time.Duration
	DelayBetweenCalls time.Duration
	MaxConcurrent     int `validate:"min=1"`
}

// FulfillmentConfig holds order fulfillment settings
type FulfillmentConfig struct {
	// IdempotencyTTL bounds how long a (order, marketplace) creation claim is
	// held. Each remote create call is cut off at half of it.
	IdempotencyTTL time.Duration
	// StatusPollInterval is how often linked orders are refreshed; zero disables polling
	StatusPollInterval time.Duration
	// StatusPollLimit caps the orders refreshed by one poll
	StatusPollLimit int `validate:"min=1"`
}

// SchedulerConfig holds background job runner configuration
type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int `validate:"min=1"`
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	// CheckInterval is how often the trigger looks for due imports and sweeps
	CheckInterval time.Duration
}

// MarketplaceConfig holds the endpoint, credential and throttling settings of
// one marketplace
type MarketplaceConfig struct {
	Enabled        bool
	BaseURL        string `validate:"omitempty,url"`
	AuthURL        string `validate:"omitempty,url"`
	SiteID         string
	Region         string
	ShipToCountry  string
	TimeoutSeconds int
	// CredentialRef names the credential set stored for this marketplace
	CredentialRef string
	Credentials   marketplace.Credentials
	RateLimit     marketplace.RateLimitPolicy
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with MARKETSYNC_ prefix (e.g., MARKETSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("MARKETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Version: v.GetString("app.version"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			RequestTimeout:    v.GetDuration("http.request_timeout"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Required: v.GetBool("redis.required"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Issuer:     v.GetString("jwt.issuer"),
			Expiration: v.GetDuration("jwt.expiration"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsExporter:   v.GetString("telemetry.metrics_exporter"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Reliability: ReliabilityConfig{
			MaxRetries:        v.GetInt("reliability.max_retries"),
			BaseDelay:         v.GetDuration("reliability.base_delay"),
			MaxDelay:          v.GetDuration("reliability.max_delay"),
			Multiplier:        v.GetFloat64("reliability.multiplier"),
			FailureThreshold:  v.GetInt("reliability.failure_threshold"),
			ResetTimeout:      v.GetDuration("reliability.reset_timeout"),
			DefaultRetryAfter: v.GetDuration("reliability.default_retry_after"),
			MaxPause:          v.GetDuration("reliability.max_pause"),
		},
		Sync: SyncConfig{
			BatchSize:         v.GetInt("sync.batch_size"),
			MaxProducts:       v.GetInt("sync.max_products"),
			ImportInterval:    v.GetDuration("sync.import_interval"),
			SweepInterval:     v.GetDuration("sync.sweep_interval"),
			DelayBetweenCalls: v.GetDuration("sync.delay_between_calls"),
			MaxConcurrent:     v.GetInt("sync.max_concurrent"),
		},
		Fulfillment: FulfillmentConfig{
			IdempotencyTTL:     v.GetDuration("fulfillment.idempotency_ttl"),
			StatusPollInterval: v.GetDuration("fulfillment.status_poll_interval"),
			StatusPollLimit:    v.GetInt("fulfillment.status_poll_limit"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
			RetryAttempts:     v.GetInt("scheduler.retry_attempts"),
			RetryDelay:        v.GetDuration("scheduler.retry_delay"),
			MaxRetryDelay:     v.GetDuration("scheduler.max_retry_delay"),
			CheckInterval:     v.GetDuration("scheduler.check_interval"),
		},
		Marketplaces: make(map[marketplace.Name]MarketplaceConfig),
	}

	for _, name := range marketplace.AllNames() {
		cfg.Marketplaces[name] = loadMarketplace(v, name)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadMarketplace reads the marketplaces.<name> section
func loadMarketplace(v *viper.Viper, name marketplace.Name) MarketplaceConfig {
	key := func(k string) string { return "marketplaces." + name.String() + "." + k }
	return MarketplaceConfig{
		Enabled:        v.GetBool(key("enabled")),
		BaseURL:        v.GetString(key("base_url")),
		AuthURL:        v.GetString(key("auth_url")),
		SiteID:         v.GetString(key("site_id")),
		Region:         v.GetString(key("region")),
		ShipToCountry:  v.GetString(key("ship_to_country")),
		TimeoutSeconds: v.GetInt(key("timeout_seconds")),
		CredentialRef:  v.GetString(key("credential_ref")),
		Credentials: marketplace.Credentials{
			ClientID:           v.GetString(key("client_id")),
			ClientSecret:       v.GetString(key("client_secret")),
			RefreshToken:       v.GetString(key("refresh_token")),
			AccessToken:        v.GetString(key("access_token")),
			AppKey:             v.GetString(key("app_key")),
			AppSecret:          v.GetString(key("app_secret")),
			SellerID:           v.GetString(key("seller_id")),
			MarketplaceID:      v.GetString(key("marketplace_id")),
			Region:             v.GetString(key("region")),
			AWSAccessKeyID:     v.GetString(key("aws_access_key_id")),
			AWSSecretAccessKey: v.GetString(key("aws_secret_access_key")),
		},
		RateLimit: marketplace.RateLimitPolicy{
			MaxConcurrent:    v.GetInt(key("rate_limit.max_concurrent")),
			MinSpacing:       v.GetDuration(key("rate_limit.min_spacing")),
			Reservoir:        v.GetInt(key("rate_limit.reservoir")),
			ReservoirRefresh: v.GetDuration(key("rate_limit.reservoir_refresh")),
		},
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "marketsync"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 120
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "marketsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "marketsync"
	}
	if cfg.JWT.Expiration == 0 {
		cfg.JWT.Expiration = time.Hour
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "marketsync"
	}
	if cfg.Telemetry.MetricsExporter == "" {
		cfg.Telemetry.MetricsExporter = "prometheus"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}

	// Reliability defaults match reliability.DefaultRetryPolicy and DefaultBreakerConfig
	if cfg.Reliability.MaxRetries == 0 {
		cfg.Reliability.MaxRetries = 3
	}
	if cfg.Reliability.BaseDelay == 0 {
		cfg.Reliability.BaseDelay = time.Second
	}
	if cfg.Reliability.MaxDelay == 0 {
		cfg.Reliability.MaxDelay = 30 * time.Second
	}
	if cfg.Reliability.Multiplier == 0 {
		cfg.Reliability.Multiplier = 2
	}
	if cfg.Reliability.FailureThreshold == 0 {
		cfg.Reliability.FailureThreshold = 5
	}
	if cfg.Reliability.ResetTimeout == 0 {
		cfg.Reliability.ResetTimeout = 30 * time.Second
	}
	if cfg.Reliability.DefaultRetryAfter == 0 {
		cfg.Reliability.DefaultRetryAfter = 60 * time.Second
	}
	if cfg.Reliability.MaxPause == 0 {
		cfg.Reliability.MaxPause = 5 * time.Minute
	}

	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 10
	}
	if cfg.Sync.MaxProducts == 0 {
		cfg.Sync.MaxProducts = 50
	}
	if cfg.Sync.ImportInterval == 0 {
		cfg.Sync.ImportInterval = 6 * time.Hour
	}
	if cfg.Sync.SweepInterval == 0 {
		cfg.Sync.SweepInterval = 24 * time.Hour
	}
	if cfg.Sync.DelayBetweenCalls == 0 {
		cfg.Sync.DelayBetweenCalls = time.Second
	}
	if cfg.Sync.MaxConcurrent == 0 {
		cfg.Sync.MaxConcurrent = 2
	}

	if cfg.Fulfillment.IdempotencyTTL == 0 {
		cfg.Fulfillment.IdempotencyTTL = 30 * time.Minute
	}
	if cfg.Fulfillment.StatusPollLimit == 0 {
		cfg.Fulfillment.StatusPollLimit = 100
	}

	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 3
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = time.Minute
	}
	if cfg.Scheduler.MaxRetryDelay == 0 {
		cfg.Scheduler.MaxRetryDelay = 30 * time.Minute
	}
	if cfg.Scheduler.CheckInterval == 0 {
		cfg.Scheduler.CheckInterval = time.Minute
	}

	for name, mc := range cfg.Marketplaces {
		if mc.CredentialRef == "" {
			mc.CredentialRef = name.String()
		}
		if mc.RateLimit == (marketplace.RateLimitPolicy{}) {
			mc.RateLimit = marketplace.DefaultRateLimitPolicy(name)
		}
		cfg.Marketplaces[name] = mc
	}
}

var validate = validator.New()

// validate performs validation on the configuration
func (c *Config) validate() error {
	for _, section := range []any{c.App, c.Database, c.Log, c.Telemetry, c.Reliability, c.Sync, c.Fulfillment, c.Scheduler} {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Reliability.BaseDelay > c.Reliability.MaxDelay {
		return fmt.Errorf("reliability.base_delay (%s) cannot exceed reliability.max_delay (%s)",
			c.Reliability.BaseDelay, c.Reliability.MaxDelay)
	}

	for name, mc := range c.Marketplaces {
		if err := validate.Struct(mc); err != nil {
			return fmt.Errorf("invalid configuration for marketplaces.%s: %w", name, err)
		}
		if err := mc.RateLimit.Validate(); err != nil {
			return fmt.Errorf("marketplaces.%s.rate_limit: %w", name, err)
		}
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// EnabledMarketplaces returns the enabled marketplaces in a stable order
func (c *Config) EnabledMarketplaces() []marketplace.Name {
	names := make([]marketplace.Name, 0, len(c.Marketplaces))
	for _, name := range marketplace.AllNames() {
		if mc, ok := c.Marketplaces[name]; ok && mc.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
