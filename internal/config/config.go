// Package config loads process configuration from defaults, the
// environment (optionally seeded from a .env file) and a JSON or YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the full process configuration. Every value is fixed at start.
type Config struct {
	Grid      *GridConfig      `json:"grid"`
	Placement *PlacementConfig `json:"placement"`
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Auth      *AuthConfig      `json:"auth"`
	Log       *LogConfig       `json:"log"`
}

// GridConfig is the canvas geometry.
type GridConfig struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	ChunkSize int `json:"chunk_size"`
}

// PlacementConfig holds the placement pipeline timings.
type PlacementConfig struct {
	Cooldown    time.Duration `json:"cooldown"`
	CreditNudge time.Duration `json:"credit_nudge"`
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type HTTPConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Host            string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval       time.Duration `json:"ping_interval"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	BufferSize         int           `json:"buffer_size"`
	MaxMessageSize     int64         `json:"max_message_size"`
	InboundRate        float64       `json:"inbound_rate"`
	InboundBurst       int           `json:"inbound_burst"`
	HubBuffer          int           `json:"hub_buffer"`
	MaxSessionsPerUser int           `json:"max_sessions_per_user"`
	// AllowedOrigins lists the browser origins that may open sessions. Empty
	// means same-origin only; "*" allows any origin.
	AllowedOrigins []string `json:"allowed_origins"`
}

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type RateLimitConfig struct {
	Backend       string        `json:"backend"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	KeyPrefix     string        `json:"key_prefix"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// Identity modes.
const (
	AuthModeJWT = "jwt"
	AuthModeDev = "dev"
)

type AuthConfig struct {
	Mode       string `json:"mode"`
	JWTSecret  string `json:"-"`
	JWTIssuer  string `json:"jwt_issuer"`
	AdminToken string `json:"-"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the settings used when nothing overrides them.
// Geometry and cooldown match the production canvas.
func DefaultConfig() *Config {
	return &Config{
		Grid: &GridConfig{
			Width:     10000,
			Height:    10000,
			ChunkSize: 256,
		},
		Placement: &PlacementConfig{
			Cooldown:    10 * time.Second,
			CreditNudge: 2 * time.Second,
		},
		Database: &DatabaseConfig{
			Driver:         DriverSQLite,
			Path:           "./data/pixelgrid.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Host:            "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:       30 * time.Second,
			ReadTimeout:        60 * time.Second,
			WriteTimeout:       10 * time.Second,
			BufferSize:         256,
			MaxMessageSize:     4096,
			InboundRate:        20,
			InboundBurst:       40,
			HubBuffer:          8192,
			MaxSessionsPerUser: 5,
		},
		RateLimit: &RateLimitConfig{
			Backend:       BackendMemory,
			KeyPrefix:     "pg:",
			SweepInterval: time.Minute,
		},
		Auth: &AuthConfig{
			Mode: AuthModeJWT,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Grid == nil || c.Placement == nil || c.Database == nil || c.HTTP == nil ||
		c.WebSocket == nil || c.RateLimit == nil || c.Auth == nil || c.Log == nil {
		return fmt.Errorf("%w: every configuration section is required", ErrInvalidConfig)
	}

	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		return fmt.Errorf("%w: grid width and height must be positive", ErrInvalidConfig)
	}
	if c.Grid.ChunkSize <= 0 {
		return fmt.Errorf("%w: grid chunk size must be positive", ErrInvalidConfig)
	}

	if c.Placement.Cooldown < 0 {
		return fmt.Errorf("%w: placement cooldown cannot be negative", ErrInvalidConfig)
	}
	if c.Placement.CreditNudge <= 0 {
		return fmt.Errorf("%w: credit nudge must be positive", ErrInvalidConfig)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database path cannot be empty", ErrInvalidConfig)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("%w: database timeout must be positive", ErrInvalidConfig)
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("%w: database max connections must be positive", ErrInvalidConfig)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: HTTP port must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: HTTP timeouts must be positive", ErrInvalidConfig)
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("%w: HTTP host cannot be empty", ErrInvalidConfig)
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("%w: WebSocket ping interval must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("%w: WebSocket read timeout must exceed the ping interval", ErrInvalidConfig)
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WebSocket write timeout must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.BufferSize <= 0 || c.WebSocket.HubBuffer <= 0 || c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: WebSocket buffer sizes must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.InboundRate < 0 || c.WebSocket.InboundBurst < 0 || c.WebSocket.MaxSessionsPerUser < 0 {
		return fmt.Errorf("%w: WebSocket limits cannot be negative", ErrInvalidConfig)
	}
	if c.WebSocket.InboundRate > 0 && c.WebSocket.InboundBurst == 0 {
		return fmt.Errorf("%w: WebSocket inbound burst must be positive when a rate is set", ErrInvalidConfig)
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
		if c.RateLimit.SweepInterval <= 0 {
			return fmt.Errorf("%w: rate limit sweep interval must be positive", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("%w: rate limit redis address is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown rate limit backend %q", ErrInvalidConfig, c.RateLimit.Backend)
	}

	switch c.Auth.Mode {
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("%w: auth jwt secret is required in jwt mode", ErrInvalidConfig)
		}
	case AuthModeDev:
	default:
		return fmt.Errorf("%w: unknown auth mode %q", ErrInvalidConfig, c.Auth.Mode)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log format must be text or json", ErrInvalidConfig)
	}
	return nil
}
