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
)

// EnvPrefix prefixes every environment variable the process reads.
const EnvPrefix = "PIXELGRID_"

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFromEnv returns the defaults overridden by PIXELGRID_* variables.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *Config) error {
	e := &envReader{}

	e.int("GRID_WIDTH", &c.Grid.Width)
	e.int("GRID_HEIGHT", &c.Grid.Height)
	e.int("GRID_CHUNK_SIZE", &c.Grid.ChunkSize)

	e.duration("PLACEMENT_COOLDOWN", &c.Placement.Cooldown)
	e.duration("PLACEMENT_CREDIT_NUDGE", &c.Placement.CreditNudge)

	e.string("DATABASE_DRIVER", &c.Database.Driver)
	e.string("DATABASE_PATH", &c.Database.Path)
	e.duration("DATABASE_TIMEOUT", &c.Database.Timeout)
	e.int("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	e.string("HTTP_HOST", &c.HTTP.Host)
	e.int("HTTP_PORT", &c.HTTP.Port)
	e.duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	e.duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	e.duration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	e.duration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	e.duration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	e.int("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	e.int64("WEBSOCKET_MAX_MESSAGE_SIZE", &c.WebSocket.MaxMessageSize)
	e.float("WEBSOCKET_INBOUND_RATE", &c.WebSocket.InboundRate)
	e.int("WEBSOCKET_INBOUND_BURST", &c.WebSocket.InboundBurst)
	e.int("WEBSOCKET_HUB_BUFFER", &c.WebSocket.HubBuffer)
	e.int("WEBSOCKET_MAX_SESSIONS_PER_USER", &c.WebSocket.MaxSessionsPerUser)
	e.list("WEBSOCKET_ALLOWED_ORIGINS", &c.WebSocket.AllowedOrigins)

	e.string("RATE_LIMIT_BACKEND", &c.RateLimit.Backend)
	e.string("RATE_LIMIT_REDIS_ADDR", &c.RateLimit.RedisAddr)
	e.string("RATE_LIMIT_REDIS_PASSWORD", &c.RateLimit.RedisPassword)
	e.int("RATE_LIMIT_REDIS_DB", &c.RateLimit.RedisDB)
	e.string("RATE_LIMIT_KEY_PREFIX", &c.RateLimit.KeyPrefix)
	e.duration("RATE_LIMIT_SWEEP_INTERVAL", &c.RateLimit.SweepInterval)

	e.string("AUTH_MODE", &c.Auth.Mode)
	e.string("AUTH_JWT_SECRET", &c.Auth.JWTSecret)
	e.string("AUTH_JWT_ISSUER", &c.Auth.JWTIssuer)
	e.string("AUTH_ADMIN_TOKEN", &c.Auth.AdminToken)

	e.string("LOG_LEVEL", &c.Log.Level)
	e.string("LOG_FORMAT", &c.Log.Format)

	return e.err
}

// envReader applies set variables and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	return v, ok && v != ""
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, EnvPrefix, key, value, err)
	}
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

// list splits a comma-separated value, dropping empty items.
func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*dst = items
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
