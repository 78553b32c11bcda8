package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string

	// EnvFile is loaded into the process environment before overrides are
	// applied. A missing file is ignored. Defaults to ".env".
	EnvFile string
}

// Load loads configuration from defaults, an optional file and the
// environment, in that order
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	envFile := options.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnv(cfg *Config) error {
	if host := os.Getenv("LINEHUB_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if err := envInt("LINEHUB_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if origins := os.Getenv("LINEHUB_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	if driver := os.Getenv("LINEHUB_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = strings.ToLower(driver)
	}
	if dir := os.Getenv("LINEHUB_STORAGE_DIR"); dir != "" {
		cfg.Storage.Dir = dir
	}
	if path := os.Getenv("LINEHUB_SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = path
	}
	if url := os.Getenv("LINEHUB_REDIS_URL"); url != "" {
		cfg.Storage.RedisURL = url
	}

	// WHATSAPP_MAX_LINES predates the LINEHUB_ prefix and is still honored
	if err := envInt("WHATSAPP_MAX_LINES", &cfg.Hub.MaxLines); err != nil {
		return err
	}
	if err := envInt("LINEHUB_MAX_LINES", &cfg.Hub.MaxLines); err != nil {
		return err
	}
	if lines := os.Getenv("WHATSAPP_LINES"); lines != "" {
		cfg.Hub.DefaultLines = parseSeeds(lines)
	}
	if err := envBool("LINEHUB_AUTO_PROVISION", &cfg.Hub.AutoProvision); err != nil {
		return err
	}
	if err := envDuration("LINEHUB_PAIRING_TIMEOUT", &cfg.Hub.PairingTimeout); err != nil {
		return err
	}

	if err := envBool("LINEHUB_ALLOW_ANONYMOUS_READ", &cfg.Gateway.AllowAnonymousRead); err != nil {
		return err
	}
	if types := os.Getenv("LINEHUB_OPERATOR_TYPES"); types != "" {
		cfg.Gateway.OperatorTypes = splitList(types)
	}

	if err := envDuration("LINEHUB_SESSION_TTL", &cfg.Auth.SessionTTL); err != nil {
		return err
	}
	if token := os.Getenv("LINEHUB_OPERATOR_TOKEN"); token != "" {
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, StaticToken{
			Token:       token,
			SubjectID:   "operator",
			SubjectType: "admin",
		})
	}

	if driver := os.Getenv("LINEHUB_ADAPTER"); driver != "" {
		cfg.Adapter.Driver = driver
	}
	if err := envDuration("LINEHUB_AUTO_PAIR_DELAY", &cfg.Adapter.AutoPairDelay); err != nil {
		return err
	}
	if err := envInt("LINEHUB_KEEP_DELIVERED", &cfg.Adapter.KeepDelivered); err != nil {
		return err
	}

	if level := os.Getenv("LINEHUB_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LINEHUB_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	return nil
}

// parseSeeds reads "id" or "id:Display Name" entries separated by commas
func parseSeeds(raw string) []LineSeed {
	var seeds []LineSeed
	for _, item := range splitList(raw) {
		id, name, _ := strings.Cut(item, ":")
		seeds = append(seeds, LineSeed{ID: strings.TrimSpace(id), DisplayName: strings.TrimSpace(name)})
	}
	return seeds
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return NewConfigError(key, "must be an integer")
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return NewConfigError(key, "must be a boolean")
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return NewConfigError(key, "must be a duration such as 30s")
	}
	*dst = d
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// WithIndex qualifies the field with a list index
func (e *ConfigError) WithIndex(i int) *ConfigError {
	e.Field = fmt.Sprintf("%s[%d]", e.Field, i)
	return e
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
