package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the forum core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Forum     ForumConfig     `yaml:"forum"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ForumConfig contains instance-level information.
type ForumConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	AdminEmail string `yaml:"admin_email"` // first-boot ADMIN account
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
	Cookie   CookieConfig     `yaml:"cookie"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// CookieConfig controls the refresh-token cookie.
type CookieConfig struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Domain string `yaml:"domain"`
	Secure bool   `yaml:"secure"`
}

// WebSocketConfig contains presence WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the security event bus.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
}

// InfluxDBConfig contains InfluxDB connection settings for security metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains the Redis connection used for request throttling.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Rotation is time based; MaxAge is in days and RotationHours in hours.
type FileLoggingConfig struct {
	Path          string `yaml:"path"`
	MaxAge        int    `yaml:"max_age"`
	RotationHours int    `yaml:"rotation_hours"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Password  PasswordConfig  `yaml:"password"`
	Lockout   LockoutConfig   `yaml:"lockout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains access/refresh token settings.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	Issuer          string `yaml:"issuer"`
	Audience        string `yaml:"audience"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`  // minutes
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"` // hours
}

// PasswordConfig contains password hashing settings.
type PasswordConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// LockoutConfig controls account lockout after repeated login failures.
type LockoutConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	DurationMinutes int `yaml:"duration_minutes"`
}

// RateLimitConfig contains token-bucket settings for the auth endpoints.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Burst             int    `yaml:"burst"`
	Prefix            string `yaml:"prefix"`
}

// Security limits enforced by Validate.
const (
	minJWTSecretLength = 32
	minBcryptCost      = 10
	maxBcryptCost      = 31
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file next to the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: FORUM_SECTION_KEY
// For example: FORUM_DATABASE_PATH, FORUM_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Forum: ForumConfig{
			ID:         "forum-001",
			Name:       "Forum",
			AdminEmail: "admin@forum.local",
		},
		Database: DatabaseConfig{
			Path:        "./data/forum.db",
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
			Cookie: CookieConfig{
				Name:   "forum_refresh",
				Path:   "/api/v1/auth",
				Secure: true,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "forum-core",
			},
			QoS:         1,
			TopicPrefix: "forum",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:          "forum-core",
				Audience:        "forum-clients",
				AccessTokenTTL:  15,
				RefreshTokenTTL: 168,
			},
			Password: PasswordConfig{
				BcryptCost: 12,
			},
			Lockout: LockoutConfig{
				MaxAttempts:     5,
				DurationMinutes: 30,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             10,
				Prefix:            "rl",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FORUM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORUM_ADMIN_EMAIL"); v != "" {
		cfg.Forum.AdminEmail = v
	}

	// Database
	if v := os.Getenv("FORUM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("FORUM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FORUM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("FORUM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FORUM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FORUM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FORUM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Redis
	if v := os.Getenv("FORUM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FORUM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("FORUM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Forum.ID == "" {
		errs = append(errs, "forum.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// A forged access token grants moderator and admin powers, so the
	// signing secret must be present and long.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set FORUM_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.JWT.Issuer == "" || c.Security.JWT.Audience == "" {
		errs = append(errs, "security.jwt.issuer and security.jwt.audience are required")
	}
	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt.refresh_token_ttl must be positive")
	}

	if c.Security.Password.BcryptCost < minBcryptCost || c.Security.Password.BcryptCost > maxBcryptCost {
		errs = append(errs, "security.password.bcrypt_cost must be between 10 and 31")
	}

	if c.Security.Lockout.MaxAttempts < 1 {
		errs = append(errs, "security.lockout.max_attempts must be at least 1")
	}
	if c.Security.Lockout.DurationMinutes < 1 {
		errs = append(errs, "security.lockout.duration_minutes must be at least 1")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be at least 1 when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout returns the API read timeout as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// AccessTokenTTL returns the access token lifetime.
func (s SecurityConfig) AccessTokenTTL() time.Duration {
	return time.Duration(s.JWT.AccessTokenTTL) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (s SecurityConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(s.JWT.RefreshTokenTTL) * time.Hour
}

// LockoutDuration returns how long an account stays locked.
func (s SecurityConfig) LockoutDuration() time.Duration {
	return time.Duration(s.Lockout.DurationMinutes) * time.Minute
}
