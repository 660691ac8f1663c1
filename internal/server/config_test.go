package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 54*time.Second, cfg.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.PongWait)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.MaintenanceInterval)
	assert.Equal(t, 10*time.Second, cfg.TypingTTL)
	assert.Equal(t, 20, cfg.HistoryLimit)
}

func TestSanitizeConfig(t *testing.T) {
	def := defaultConfig()

	tests := []struct {
		name  string
		in    func(*Config)
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "zero values fall back to defaults",
			in:   func(cfg *Config) { *cfg = Config{} },
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, def.Port, cfg.Port)
				assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
				assert.Equal(t, def.RateLimit, cfg.RateLimit)
				assert.Equal(t, def.IdleTimeout, cfg.IdleTimeout)
				assert.Equal(t, def.WorkerPoolSize, cfg.WorkerPoolSize)
				assert.Empty(t, cfg.AllowedOrigins)
			},
		},
		{
			name: "ping interval is kept below the pong wait",
			in: func(cfg *Config) {
				cfg.PongWait = 10 * time.Second
				cfg.PingInterval = 20 * time.Second
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 9*time.Second, cfg.PingInterval)
			},
		},
		{
			name: "origins are normalized and wildcard kept",
			in: func(cfg *Config) {
				cfg.AllowedOrigins = []string{" HTTP://Example.COM ", "*", "not a url", ""}
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, []string{"http://example.com", "*"}, cfg.AllowedOrigins)
			},
		},
		{
			name: "zero history limit is allowed",
			in:   func(cfg *Config) { cfg.HistoryLimit = 0 },
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 0, cfg.HistoryLimit)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.in(&cfg)
			tt.check(t, sanitizeConfig(cfg))
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("IDLE_TIMEOUT", "45m")
	t.Setenv("MAINTENANCE_INTERVAL", "1m")
	t.Setenv("HISTORY_LIMIT", "50")
	t.Setenv("DATABASE_URL", "postgres://chat@localhost/chat")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_ISSUER", "auth.example")
	t.Setenv("JWT_LEEWAY", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 45*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.MaintenanceInterval)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, "postgres://chat@localhost/chat", cfg.Database.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "auth.example", cfg.Auth.JWTIssuer)
	assert.Equal(t, 90*time.Second, cfg.Auth.JWTLeeway)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigIgnoresInvalidEnvValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("IDLE_TIMEOUT", "soon")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	def := defaultConfig()

	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, def.IdleTimeout, cfg.IdleTimeout)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	content := `
port: ":7000"
allowed_origins:
  - "https://chat.example"
idle_timeout: 10m
history_limit: 5
rate_limit:
  burst: 4
  refill_interval: 500ms
auth:
  jwt_secret: from-file
log:
  level: warn
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("HISTORY_LIMIT", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, []string{"https://chat.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 7, cfg.HistoryLimit, "environment overrides the file")
	assert.Equal(t, 4, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.HandshakeTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5", 5 * time.Second},
		{"1500ms", 1500 * time.Millisecond},
		{"2m", 2 * time.Minute},
		{"0", time.Hour},
		{"-3s", time.Hour},
		{"later", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDuration(tt.in, time.Hour))
		})
	}
}
