package config

import (
	"time"

	"github.com/HMasataka/linehub/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `json:"server" yaml:"server"`
	Storage StorageConfig  `json:"storage" yaml:"storage"`
	Hub     HubConfig      `json:"hub" yaml:"hub"`
	Gateway GatewayConfig  `json:"gateway" yaml:"gateway"`
	Auth    AuthConfig     `json:"auth" yaml:"auth"`
	Adapter AdapterConfig  `json:"adapter" yaml:"adapter"`
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `json:"host" yaml:"host"`
	Port           int           `json:"port" yaml:"port"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// Storage drivers
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Dir         string `json:"dir" yaml:"dir"`
	SQLitePath  string `json:"sqlite_path" yaml:"sqlite_path"`
	RedisURL    string `json:"redis_url" yaml:"redis_url"`
	RedisPrefix string `json:"redis_prefix" yaml:"redis_prefix"`
}

// LineSeed is a line ensured at startup
type LineSeed struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// HubConfig configures the messaging hub
type HubConfig struct {
	MaxLines       int           `json:"max_lines" yaml:"max_lines"`
	AutoProvision  bool          `json:"auto_provision" yaml:"auto_provision"`
	HistoryDefault int           `json:"history_default" yaml:"history_default"`
	HistoryMax     int           `json:"history_max" yaml:"history_max"`
	PairingTimeout time.Duration `json:"pairing_timeout" yaml:"pairing_timeout"`
	DefaultLines   []LineSeed    `json:"default_lines" yaml:"default_lines"`
}

// GatewayConfig configures the real-time gateway
type GatewayConfig struct {
	Path               string        `json:"path" yaml:"path"`
	AllowAnonymousRead bool          `json:"allow_anonymous_read" yaml:"allow_anonymous_read"`
	OperatorTypes      []string      `json:"operator_types" yaml:"operator_types"`
	RequestRate        float64       `json:"request_rate" yaml:"request_rate"`
	RequestBurst       int           `json:"request_burst" yaml:"request_burst"`
	PingInterval       time.Duration `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout        time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout" yaml:"write_timeout"`
	SendBuffer         int           `json:"send_buffer" yaml:"send_buffer"`
}

// StaticToken maps a fixed credential to a subject
type StaticToken struct {
	Token       string `json:"token" yaml:"token"`
	SubjectID   string `json:"subject_id" yaml:"subject_id"`
	SubjectType string `json:"subject_type" yaml:"subject_type"`
}

// AuthConfig configures authentication
type AuthConfig struct {
	SessionTTL time.Duration `json:"session_ttl" yaml:"session_ttl"`
	Tokens     []StaticToken `json:"tokens" yaml:"tokens"`
}

// AdapterConfig configures the transport adapter
type AdapterConfig struct {
	Driver        string        `json:"driver" yaml:"driver"`
	SessionDir    string        `json:"session_dir" yaml:"session_dir"`
	AutoPairDelay time.Duration `json:"auto_pair_delay" yaml:"auto_pair_delay"`
	KeepDelivered int           `json:"keep_delivered" yaml:"keep_delivered"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           3000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Driver:      DriverFile,
			Dir:         "data/linehub",
			SQLitePath:  "data/linehub.db",
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "linehub",
		},
		Hub: HubConfig{
			MaxLines:       8,
			AutoProvision:  true,
			HistoryDefault: 100,
			HistoryMax:     250,
			DefaultLines: []LineSeed{
				{ID: "cajero1", DisplayName: "Cajero 1"},
				{ID: "cajero2", DisplayName: "Cajero 2"},
				{ID: "soporte", DisplayName: "Soporte"},
			},
		},
		Gateway: GatewayConfig{
			Path:          "/ws",
			OperatorTypes: []string{"cajero", "admin"},
			RequestRate:   20,
			RequestBurst:  40,
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  10 * time.Second,
			SendBuffer:    256,
		},
		Auth: AuthConfig{
			SessionTTL: 6 * time.Hour,
		},
		Adapter: AdapterConfig{
			Driver:     "simulator",
			SessionDir: ".sessions",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.Dir == "" {
			return NewConfigError("storage.dir", "required for the file driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return NewConfigError("storage.sqlite_path", "required for the sqlite driver")
		}
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			return NewConfigError("storage.redis_url", "required for the redis driver")
		}
	default:
		return NewConfigError("storage.driver", "must be one of file, sqlite, redis")
	}

	if c.Hub.MaxLines <= 0 {
		return NewConfigError("hub.max_lines", "must be positive")
	}

	if c.Hub.HistoryMax <= 0 || c.Hub.HistoryDefault <= 0 || c.Hub.HistoryDefault > c.Hub.HistoryMax {
		return NewConfigError("hub.history_default", "must be positive and not exceed hub.history_max")
	}

	if c.Hub.PairingTimeout < 0 {
		return NewConfigError("hub.pairing_timeout", "timeout cannot be negative")
	}

	if c.Gateway.RequestRate < 0 || c.Gateway.RequestBurst < 0 {
		return NewConfigError("gateway.request_rate", "rate limits cannot be negative")
	}

	if c.Gateway.SendBuffer <= 0 {
		return NewConfigError("gateway.send_buffer", "must be positive")
	}

	for i, tok := range c.Auth.Tokens {
		if tok.Token == "" || tok.SubjectType == "" {
			return NewConfigError("auth.tokens", "token and subject_type are required").WithIndex(i)
		}
	}

	if c.Auth.SessionTTL <= 0 {
		return NewConfigError("auth.session_ttl", "must be positive")
	}

	return nil
}
