package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/alis2001/chat-service/internal/log"
)

// RateLimitConfig defines the parameters for per-connection frame rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// DatabaseConfig selects the relational store. An empty URL keeps all state
// in memory.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig enables the Redis typing indicator store when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// AuthConfig selects the token verifier. OIDC wins when OIDCIssuer is set.
type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	JWTIssuer    string `mapstructure:"jwt_issuer"`
	OIDCIssuer   string `mapstructure:"oidc_issuer"`
	OIDCClientID string `mapstructure:"oidc_client_id"`

	// JWTLeeway is the clock skew tolerated on token time claims.
	JWTLeeway time.Duration `mapstructure:"jwt_leeway"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string          `mapstructure:"port"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	MaxMessageSize int64           `mapstructure:"max_message_size"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`

	HandshakeTimeout    time.Duration `mapstructure:"handshake_timeout"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	PongWait            time.Duration `mapstructure:"pong_wait"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`

	HistoryLimit     int           `mapstructure:"history_limit"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	TypingTTL        time.Duration `mapstructure:"typing_ttl"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`

	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      log.Config     `mapstructure:"log"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 8192,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		HandshakeTimeout:    30 * time.Second,
		PingInterval:        54 * time.Second,
		PongWait:            60 * time.Second,
		IdleTimeout:         30 * time.Minute,
		MaintenanceInterval: 5 * time.Minute,
		ShutdownTimeout:     10 * time.Second,
		HistoryLimit:        20,
		MaxContentLength:    4000,
		TypingTTL:           10 * time.Second,
		StoreTimeout:        5 * time.Second,
		WorkerPoolSize:      64,
		Database: DatabaseConfig{
			ConnectTimeout: 30 * time.Second,
		},
		Log: log.DefaultConfig(),
	}
}

// sanitizeConfig replaces unusable values with defaults and normalizes the
// origin allow-list.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	// pings must arrive before the pong deadline runs out
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.MaxContentLength < 0 {
		cfg.MaxContentLength = def.MaxContentLength
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = def.TypingTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = def.WorkerPoolSize
	}
	if cfg.Database.ConnectTimeout <= 0 {
		cfg.Database.ConnectTimeout = def.Database.ConnectTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	if allowAll {
		normalizedOrigins = append(normalizedOrigins, "*")
	}
	cfg.AllowedOrigins = normalizedOrigins
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads defaults, then the optional YAML or JSON file at path,
// then environment overrides, and sanitizes the result.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, errors.Wrapf(err, "decode config file %s", path)
		}
	}
	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = parseDuration(v, cfg.IdleTimeout)
	}
	if v := os.Getenv("MAINTENANCE_INTERVAL"); v != "" {
		cfg.MaintenanceInterval = parseDuration(v, cfg.MaintenanceInterval)
	}
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		cfg.HistoryLimit = parseIntValue(v, cfg.HistoryLimit)
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.Auth.JWTIssuer = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.Auth.JWTLeeway = parseDuration(v, cfg.Auth.JWTLeeway)
	}
	if v := os.Getenv("OIDC_ISSUER"); v != "" {
		cfg.Auth.OIDCIssuer = v
	}
	if v := os.Getenv("OIDC_CLIENT_ID"); v != "" {
		cfg.Auth.OIDCClientID = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File.Filename = v
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts a Go duration ("90s") or a whole number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
