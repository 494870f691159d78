package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type GatewayConfig struct {
	APIKey       string `mapstructure:"api_key"`
	AllowedIPs   string `mapstructure:"allowed_ips"`
	LogRequests  bool   `mapstructure:"log_requests"`
	DefaultModel string `mapstructure:"default_model"`
	DefaultUser  string `mapstructure:"default_user"`
}

// AllowedIPList splits the comma separated allow-list, dropping blanks
func (c GatewayConfig) AllowedIPList() []string {
	var out []string
	for _, entry := range strings.Split(c.AllowedIPs, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

type BackendConfig struct {
	URL               string        `mapstructure:"url"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	ModelsTimeout     time.Duration `mapstructure:"models_timeout"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Database    string `mapstructure:"database"`
	SSLMode     string `mapstructure:"ssl_mode"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type CacheConfig struct {
	ModelsTTL time.Duration `mapstructure:"models_ttl"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level             string        `mapstructure:"level"`
	Format            string        `mapstructure:"format"`
	AuditFile         string        `mapstructure:"audit_file"`
	AuditMaxAge       time.Duration `mapstructure:"audit_max_age"`
	AuditRotationTime time.Duration `mapstructure:"audit_rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the gateway cannot start with
func (c *Config) Validate() error {
	if c.Gateway.APIKey == "" {
		return errors.New("gateway.api_key (API_KEY) must be set")
	}
	if c.Backend.URL == "" {
		return errors.New("backend.url (VLLM_URL) must be set")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "150s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.trust_proxy_headers", false)

	// Gateway
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.allowed_ips", "")
	v.SetDefault("gateway.log_requests", true)
	v.SetDefault("gateway.default_model", "qwen2.5-7b")
	v.SetDefault("gateway.default_user", "default")

	// Backend
	v.SetDefault("backend.url", "http://localhost:8001")
	v.SetDefault("backend.completion_timeout", "120s")
	v.SetDefault("backend.models_timeout", "10s")
	v.SetDefault("backend.health_timeout", "5s")

	// Database
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.sqlite_path", "./data/gateway.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gateway")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "gateway")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.auto_migrate", true)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Cache
	v.SetDefault("cache.models_ttl", "60s")

	// Security
	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.requests_per_minute", 60)
	v.SetDefault("security.rate_limit.burst", 10)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.audit_file", "")
	v.SetDefault("logging.audit_max_age", "720h")
	v.SetDefault("logging.audit_rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Gateway
	v.BindEnv("gateway.api_key", "API_KEY")
	v.BindEnv("gateway.allowed_ips", "ALLOWED_IPS")
	v.BindEnv("gateway.log_requests", "LOG_REQUESTS")
	v.BindEnv("gateway.default_model", "DEFAULT_MODEL")

	// Backend
	v.BindEnv("backend.url", "VLLM_URL")

	// Server
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.port", "PORT")

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.sqlite_path", "SQLITE_PATH")
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.user", "POSTGRES_USER")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("database.database", "POSTGRES_DB")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")
	v.BindEnv("logging.audit_file", "AUDIT_LOG_FILE")
}
