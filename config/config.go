package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config Application Configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Projector ProjectorConfig `mapstructure:"projector"`
	ReadStore ReadStoreConfig `mapstructure:"read_store"`
	Command   CommandConfig   `mapstructure:"command"`
	Log       LogConfig       `mapstructure:"log"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// AppConfig Application Configuration
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"` // development, staging, production
}

// ServerConfig Server Configuration
type ServerConfig struct {
	Port            string          `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig Rate Limiting Configuration
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`  // Requests per second
	Burst   int     `mapstructure:"burst"` // Burst capacity

	// WritesOnly 只限制命令请求 (POST/PUT/PATCH/DELETE)
	WritesOnly bool `mapstructure:"writes_only"`
}

// DatabaseConfig Write store configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql, postgres, sqlite
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

// RetryConfig Retry configuration for transient database errors.
// Version conflicts are never retried.
type RetryConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	InitialDelay       time.Duration `mapstructure:"initial_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	BackoffFactor      float64       `mapstructure:"backoff_factor"`
	JitterEnabled      bool          `mapstructure:"jitter_enabled"`
	RetryOnDeadlock    bool          `mapstructure:"retry_on_deadlock"`
	RetryOnLockTimeout bool          `mapstructure:"retry_on_lock_timeout"`
}

// OutboxConfig Outbox relay configuration
type OutboxConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`       // leave fresh rows to the command pipeline
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"` // PROCESSING rows older than this go back to PENDING
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
}

// BrokerConfig Event broker configuration
type BrokerConfig struct {
	Driver         string        `mapstructure:"driver"` // redis, memory
	Addrs          []string      `mapstructure:"addrs"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	Stream         string        `mapstructure:"stream"`
	MaxLen         int64         `mapstructure:"max_len"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// ProjectorConfig Projection consumer configuration
type ProjectorConfig struct {
	Group         string        `mapstructure:"group"`
	Consumer      string        `mapstructure:"consumer"`
	Patterns      []string      `mapstructure:"patterns"`
	Block         time.Duration `mapstructure:"block"`
	MinIdle       time.Duration `mapstructure:"min_idle"`
	MaxDeliveries int           `mapstructure:"max_deliveries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// ReadStoreConfig Read model configuration
type ReadStoreConfig struct {
	Driver   string        `mapstructure:"driver"` // mongo, memory
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CommandConfig Command bus configuration
type CommandConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig Log Configuration
type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file, both
	FilePath string `mapstructure:"file_path"`

	// 文件轮转，仅 output 为 file/both 时生效
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// CORSConfig CORS Configuration
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// IsDevelopment Whether it's development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction Whether it's production environment
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Load Load Configuration
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// LIBRARY_DATABASE_DRIVER overrides database.driver, and so on
	v.SetEnvPrefix("LIBRARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Broker.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported broker driver %q", c.Broker.Driver)
	}
	switch c.ReadStore.Driver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("unsupported read store driver %q", c.ReadStore.Driver)
	}
	if c.Broker.Driver == "memory" && c.ReadStore.Driver != "memory" {
		// the in-memory broker only reaches consumers inside the same process
		return fmt.Errorf("broker driver memory requires read_store driver memory")
	}
	return nil
}

// setDefaults Set default configuration
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "library")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.env", "development")

	// Server
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.rate", 100)
	v.SetDefault("server.rate_limit.burst", 200)
	v.SetDefault("server.rate_limit.writes_only", false)

	// Database
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "library")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "data/library.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("database.retry.enabled", true)
	v.SetDefault("database.retry.max_attempts", 3)
	v.SetDefault("database.retry.initial_delay", "100ms")
	v.SetDefault("database.retry.max_delay", "2s")
	v.SetDefault("database.retry.backoff_factor", 2.0)
	v.SetDefault("database.retry.jitter_enabled", true)
	v.SetDefault("database.retry.retry_on_deadlock", true)
	v.SetDefault("database.retry.retry_on_lock_timeout", true)

	// Outbox relay
	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.poll_interval", "2s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retries", 10)
	v.SetDefault("outbox.grace_period", "10s")
	v.SetDefault("outbox.processing_timeout", "1m")
	v.SetDefault("outbox.initial_backoff", "1s")
	v.SetDefault("outbox.max_backoff", "5m")

	// Broker
	v.SetDefault("broker.driver", "memory")
	v.SetDefault("broker.addrs", []string{"localhost:6379"})
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.stream", "library.events")
	v.SetDefault("broker.max_len", 1000000)
	v.SetDefault("broker.publish_timeout", "5s")

	// Projector
	v.SetDefault("projector.group", "library-read-model")
	v.SetDefault("projector.consumer", "projector-1")
	v.SetDefault("projector.patterns", []string{"library.book.*", "library.author.*"})
	v.SetDefault("projector.block", "2s")
	v.SetDefault("projector.min_idle", "30s")
	v.SetDefault("projector.max_deliveries", 5)
	v.SetDefault("projector.retry_delay", "1s")

	// Read store
	v.SetDefault("read_store.driver", "memory")
	v.SetDefault("read_store.uri", "mongodb://localhost:27017")
	v.SetDefault("read_store.database", "library_read")
	v.SetDefault("read_store.timeout", "5s")

	// Command bus
	v.SetDefault("command.timeout", "10s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/library.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)

	// CORS
	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allow_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allow_headers", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-User-ID", "If-Match"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 86400)
}
