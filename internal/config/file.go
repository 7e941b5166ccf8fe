package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the on-disk shape. Durations are strings such as "10s";
// zero values leave the underlying setting unchanged.
type ConfigFile struct {
	Grid *struct {
		Width     int `json:"width" yaml:"width"`
		Height    int `json:"height" yaml:"height"`
		ChunkSize int `json:"chunk_size" yaml:"chunk_size"`
	} `json:"grid" yaml:"grid"`

	Placement *struct {
		Cooldown    string `json:"cooldown" yaml:"cooldown"`
		CreditNudge string `json:"credit_nudge" yaml:"credit_nudge"`
	} `json:"placement" yaml:"placement"`

	Database *struct {
		Driver         string `json:"driver" yaml:"driver"`
		Path           string `json:"path" yaml:"path"`
		Timeout        string `json:"timeout" yaml:"timeout"`
		MaxConnections int    `json:"max_connections" yaml:"max_connections"`
	} `json:"database" yaml:"database"`

	HTTP *struct {
		Port            int    `json:"port" yaml:"port"`
		Host            string `json:"host" yaml:"host"`
		ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	} `json:"http" yaml:"http"`

	WebSocket *struct {
		PingInterval       string   `json:"ping_interval" yaml:"ping_interval"`
		ReadTimeout        string   `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout       string   `json:"write_timeout" yaml:"write_timeout"`
		BufferSize         int      `json:"buffer_size" yaml:"buffer_size"`
		MaxMessageSize     int64    `json:"max_message_size" yaml:"max_message_size"`
		InboundRate        float64  `json:"inbound_rate" yaml:"inbound_rate"`
		InboundBurst       int      `json:"inbound_burst" yaml:"inbound_burst"`
		HubBuffer          int      `json:"hub_buffer" yaml:"hub_buffer"`
		MaxSessionsPerUser int      `json:"max_sessions_per_user" yaml:"max_sessions_per_user"`
		AllowedOrigins     []string `json:"allowed_origins" yaml:"allowed_origins"`
	} `json:"websocket" yaml:"websocket"`

	RateLimit *struct {
		Backend       string `json:"backend" yaml:"backend"`
		RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
		RedisPassword string `json:"redis_password" yaml:"redis_password"`
		RedisDB       int    `json:"redis_db" yaml:"redis_db"`
		KeyPrefix     string `json:"key_prefix" yaml:"key_prefix"`
		SweepInterval string `json:"sweep_interval" yaml:"sweep_interval"`
	} `json:"rate_limit" yaml:"rate_limit"`

	Auth *struct {
		Mode       string `json:"mode" yaml:"mode"`
		JWTSecret  string `json:"jwt_secret" yaml:"jwt_secret"`
		JWTIssuer  string `json:"jwt_issuer" yaml:"jwt_issuer"`
		AdminToken string `json:"admin_token" yaml:"admin_token"`
	} `json:"auth" yaml:"auth"`

	Log *struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"log" yaml:"log"`
}

// ReadConfigFile decodes path as JSON or YAML depending on its extension.
func ReadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &file, nil
}

// LoadFromFile returns the defaults overridden by the file at path.
func LoadFromFile(path string) (*Config, error) {
	file, err := ReadConfigFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	if err := file.apply(config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence layers defaults, then the environment (seeded
// from envFile when given), then the config file. Any error aborts.
func LoadConfigWithPrecedence(envFile, path string) (*Config, error) {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	config, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path != "" {
		file, err := ReadConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := file.apply(config); err != nil {
			return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (f *ConfigFile) apply(c *Config) error {
	d := &durationSetter{}

	if g := f.Grid; g != nil {
		setInt(&c.Grid.Width, g.Width)
		setInt(&c.Grid.Height, g.Height)
		setInt(&c.Grid.ChunkSize, g.ChunkSize)
	}
	if p := f.Placement; p != nil {
		d.set("placement.cooldown", p.Cooldown, &c.Placement.Cooldown)
		d.set("placement.credit_nudge", p.CreditNudge, &c.Placement.CreditNudge)
	}
	if db := f.Database; db != nil {
		setString(&c.Database.Driver, db.Driver)
		setString(&c.Database.Path, db.Path)
		d.set("database.timeout", db.Timeout, &c.Database.Timeout)
		setInt(&c.Database.MaxConnections, db.MaxConnections)
	}
	if h := f.HTTP; h != nil {
		setInt(&c.HTTP.Port, h.Port)
		setString(&c.HTTP.Host, h.Host)
		d.set("http.read_timeout", h.ReadTimeout, &c.HTTP.ReadTimeout)
		d.set("http.write_timeout", h.WriteTimeout, &c.HTTP.WriteTimeout)
		d.set("http.shutdown_timeout", h.ShutdownTimeout, &c.HTTP.ShutdownTimeout)
	}
	if ws := f.WebSocket; ws != nil {
		d.set("websocket.ping_interval", ws.PingInterval, &c.WebSocket.PingInterval)
		d.set("websocket.read_timeout", ws.ReadTimeout, &c.WebSocket.ReadTimeout)
		d.set("websocket.write_timeout", ws.WriteTimeout, &c.WebSocket.WriteTimeout)
		setInt(&c.WebSocket.BufferSize, ws.BufferSize)
		if ws.MaxMessageSize != 0 {
			c.WebSocket.MaxMessageSize = ws.MaxMessageSize
		}
		if ws.InboundRate != 0 {
			c.WebSocket.InboundRate = ws.InboundRate
		}
		setInt(&c.WebSocket.InboundBurst, ws.InboundBurst)
		setInt(&c.WebSocket.HubBuffer, ws.HubBuffer)
		setInt(&c.WebSocket.MaxSessionsPerUser, ws.MaxSessionsPerUser)
		if len(ws.AllowedOrigins) > 0 {
			c.WebSocket.AllowedOrigins = ws.AllowedOrigins
		}
	}
	if rl := f.RateLimit; rl != nil {
		setString(&c.RateLimit.Backend, rl.Backend)
		setString(&c.RateLimit.RedisAddr, rl.RedisAddr)
		setString(&c.RateLimit.RedisPassword, rl.RedisPassword)
		setInt(&c.RateLimit.RedisDB, rl.RedisDB)
		setString(&c.RateLimit.KeyPrefix, rl.KeyPrefix)
		d.set("rate_limit.sweep_interval", rl.SweepInterval, &c.RateLimit.SweepInterval)
	}
	if a := f.Auth; a != nil {
		setString(&c.Auth.Mode, a.Mode)
		setString(&c.Auth.JWTSecret, a.JWTSecret)
		setString(&c.Auth.JWTIssuer, a.JWTIssuer)
		setString(&c.Auth.AdminToken, a.AdminToken)
	}
	if l := f.Log; l != nil {
		setString(&c.Log.Level, l.Level)
		setString(&c.Log.Format, l.Format)
	}
	return d.err
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// durationSetter parses duration strings and keeps the first error.
type durationSetter struct {
	err error
}

func (d *durationSetter) set(field, value string, dst *time.Duration) {
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		if d.err == nil {
			d.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, field, value, err)
		}
		return
	}
	*dst = parsed
}
