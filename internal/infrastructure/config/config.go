package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SmartRack Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Auth     AuthConfig     `yaml:"auth"`
	Security SecurityConfig `yaml:"security"`
	Email    EmailConfig    `yaml:"email"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	// AllowedOrigins lists the frontends that may send the refresh cookie.
	// Empty or "*" allows any origin without credentials.
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// AuthConfig contains user and device authentication settings.
type AuthConfig struct {
	// MaxRefreshTokens is the number of concurrently valid refresh tokens
	// a user may hold. Older tokens beyond this count are revoked on login.
	MaxRefreshTokens int `yaml:"max_refresh_tokens"`

	// RefreshTokenDays is the lifetime of a refresh token.
	RefreshTokenDays int `yaml:"refresh_token_days"`

	// ResetRequestValidityHours is how long a non-initial reset password
	// request stays consumable.
	ResetRequestValidityHours int `yaml:"reset_request_validity_hours"`

	// FrontendResetLink is the base URL of the frontend set-password page.
	// The request id and verification code are appended as query parameters.
	FrontendResetLink string `yaml:"frontend_reset_link"`

	// CookieSecure sets the Secure attribute on the refresh cookie.
	// Only disable for local development over plain HTTP.
	CookieSecure bool `yaml:"cookie_secure"`

	// BootstrapAdminEmail creates an initial sys_admin invite when the
	// user table is empty.
	BootstrapAdminEmail string `yaml:"bootstrap_admin_email"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT signing settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// PasswordConfig contains Argon2id hashing parameters.
type PasswordConfig struct {
	Time    uint32 `yaml:"time"`
	Memory  uint32 `yaml:"memory_kib"`
	Threads uint8  `yaml:"threads"`
}

// RateLimitConfig contains rate limiting settings for the public auth endpoints.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Burst             int    `yaml:"burst"`
	Backend           string `yaml:"backend"` // "memory" or "redis"
}

// EmailConfig contains outgoing email settings.
type EmailConfig struct {
	// Transport selects the sender: "resend", "amqp" or "log".
	Transport string     `yaml:"transport"`
	From      string     `yaml:"from"`
	APIKey    string     `yaml:"api_key"`
	AMQP      AMQPConfig `yaml:"amqp"`
}

// AMQPConfig contains the RabbitMQ outbox settings used by the amqp email transport.
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SMARTRACK_SECTION_KEY
// For example: SMARTRACK_DATABASE_PATH, SMARTRACK_JWT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/smartrack.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Auth: AuthConfig{
			MaxRefreshTokens:          5,
			RefreshTokenDays:          7,
			ResetRequestValidityHours: 1,
			CookieSecure:              true,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "smartrack",
			},
			Password: PasswordConfig{
				Time:    3,
				Memory:  64 * 1024,
				Threads: 1,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 20,
				Burst:             10,
				Backend:           "memory",
			},
		},
		Email: EmailConfig{
			Transport: "log",
			From:      "SmartRack <no-reply@smartrack.local>",
			AMQP: AMQPConfig{
				Queue: "smartrack.email",
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartrack-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:    "smartrack",
			Bucket: "telemetry",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SMARTRACK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SMARTRACK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("SMARTRACK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	overrideInt("SMARTRACK_API_PORT", &cfg.API.Port)

	// Auth
	if v := os.Getenv("SMARTRACK_FRONTEND_RESET_LINK"); v != "" {
		cfg.Auth.FrontendResetLink = v
	}
	overrideInt("SMARTRACK_MAX_REFRESH_TOKENS", &cfg.Auth.MaxRefreshTokens)
	overrideInt("SMARTRACK_REFRESH_TOKEN_DAYS", &cfg.Auth.RefreshTokenDays)
	overrideInt("SMARTRACK_RESET_REQUEST_VALIDITY_HOURS", &cfg.Auth.ResetRequestValidityHours)

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("SMARTRACK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("SMARTRACK_JWT_ISSUER"); v != "" {
		cfg.Security.JWT.Issuer = v
	}

	// Email
	if v := os.Getenv("SMARTRACK_RESEND_API_KEY"); v != "" {
		cfg.Email.APIKey = v
	}
	if v := os.Getenv("SMARTRACK_AMQP_URL"); v != "" {
		cfg.Email.AMQP.URL = v
	}

	// Redis
	if v := os.Getenv("SMARTRACK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SMARTRACK_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("SMARTRACK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SMARTRACK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SMARTRACK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SMARTRACK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// overrideInt replaces *dst with the integer value of env key when it parses.
// Unparseable values are left for Validate to report against the file value.
func overrideInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Signing secret is REQUIRED. A forged token grants access to every
	// organization's shelves and devices.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set SMARTRACK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.JWT.Issuer == "" {
		errs = append(errs, "security.jwt.issuer is required")
	}

	if c.Auth.FrontendResetLink == "" {
		errs = append(errs, "auth.frontend_reset_link is required (set SMARTRACK_FRONTEND_RESET_LINK environment variable)")
	}
	if c.Auth.MaxRefreshTokens < 1 {
		errs = append(errs, "auth.max_refresh_tokens must be at least 1")
	}
	if c.Auth.RefreshTokenDays < 1 {
		errs = append(errs, "auth.refresh_token_days must be at least 1")
	}
	if c.Auth.ResetRequestValidityHours < 1 {
		errs = append(errs, "auth.reset_request_validity_hours must be at least 1")
	}

	if c.Security.RateLimit.Enabled {
		switch c.Security.RateLimit.Backend {
		case "memory":
		case "redis":
			if !c.Redis.Enabled {
				errs = append(errs, "security.rate_limit.backend redis requires redis.enabled")
			}
		default:
			errs = append(errs, "security.rate_limit.backend must be memory or redis")
		}
		if c.Security.RateLimit.RequestsPerMinute < 1 {
			errs = append(errs, "security.rate_limit.requests_per_minute must be at least 1")
		}
	}

	switch c.Email.Transport {
	case "log":
	case "resend":
		if c.Email.APIKey == "" {
			errs = append(errs, "email.api_key is required for the resend transport (set SMARTRACK_RESEND_API_KEY)")
		}
	case "amqp":
		if c.Email.AMQP.URL == "" || c.Email.AMQP.Queue == "" {
			errs = append(errs, "email.amqp.url and email.amqp.queue are required for the amqp transport")
		}
	default:
		errs = append(errs, "email.transport must be resend, amqp or log")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RefreshTokenLifetime returns the configured refresh token lifetime.
func (c *Config) RefreshTokenLifetime() time.Duration {
	return time.Duration(c.Auth.RefreshTokenDays) * 24 * time.Hour
}

// ResetRequestValidity returns how long a reset password request stays valid.
func (c *Config) ResetRequestValidity() time.Duration {
	return time.Duration(c.Auth.ResetRequestValidityHours) * time.Hour
}
