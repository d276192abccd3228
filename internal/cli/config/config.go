package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JSONAPI_SERVER_PORT
const EnvPrefix = "JSONAPI"

// Drivers lists the supported database.driver values
var Drivers = []string{"memory", "postgres", "sqlite"}

// Config represents the server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Schema    SchemaConfig    `mapstructure:"schema"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	BaseURL         string        `mapstructure:"base_url"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// SchemaConfig locates the resource schema file
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig bounds what clients may request
type APIConfig struct {
	DefaultPageSize  int   `mapstructure:"default_page_size"`
	MaxPageSize      int   `mapstructure:"max_page_size"`
	MaxIncludeDepth  int   `mapstructure:"max_include_depth"`
	AllowClientIDs   bool  `mapstructure:"allow_client_ids"`
	RelationshipData bool  `mapstructure:"relationship_data"`
	MaxBodyBytes     int64 `mapstructure:"max_body_bytes"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	RedisURL string        `mapstructure:"redis_url"`
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// PublicURL returns the base URL resource links are built from, including the API
// prefix
func (s ServerConfig) PublicURL() string {
	base := s.BaseURL
	if base == "" {
		base = "http://" + s.Address()
	}
	return strings.TrimSuffix(base, "/") + s.APIPrefix
}

// SetDefaults registers the default of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")

	v.SetDefault("schema.path", "resources.yaml")

	v.SetDefault("api.default_page_size", 20)
	v.SetDefault("api.max_page_size", 100)
	v.SetDefault("api.max_include_depth", 3)
	v.SetDefault("api.allow_client_ids", false)
	v.SetDefault("api.relationship_data", false)
	v.SetDefault("api.max_body_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.redis_url", "")
}

// New returns a viper instance with defaults and environment overrides. configFile
// names an explicit config file; when empty jsonapi-server.yaml is searched in . and
// ./config.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("jsonapi-server")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing config file is not an error unless it was
// named explicitly.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile, err)
		}
	}
	return LoadFrom(New(configFile))
}

// LoadFrom reads and validates the configuration held by v
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports every invalid setting of cfg
func Validate(cfg *Config) error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port must be between 0 and 65535, got: %d", cfg.Server.Port)
	}
	if prefix := cfg.Server.APIPrefix; prefix != "" {
		if !strings.HasPrefix(prefix, "/") {
			add("server.api_prefix must start with '/', got: %s", prefix)
		}
		if strings.HasSuffix(prefix, "/") {
			add("server.api_prefix must not end with '/', got: %s", prefix)
		}
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout must be positive, got: %s", cfg.Server.ShutdownTimeout)
	}

	switch cfg.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if cfg.Database.URL == "" {
			add("database.url is required for the %s driver", cfg.Database.Driver)
		}
	default:
		add("database.driver must be one of %s, got: %q", strings.Join(Drivers, ", "), cfg.Database.Driver)
	}

	if cfg.Schema.Path == "" {
		add("schema.path is required")
	}

	if cfg.API.DefaultPageSize <= 0 {
		add("api.default_page_size must be positive, got: %d", cfg.API.DefaultPageSize)
	}
	if cfg.API.MaxPageSize <= 0 {
		add("api.max_page_size must be positive, got: %d", cfg.API.MaxPageSize)
	}
	if cfg.API.DefaultPageSize > cfg.API.MaxPageSize {
		add("api.default_page_size (%d) must not exceed api.max_page_size (%d)", cfg.API.DefaultPageSize, cfg.API.MaxPageSize)
	}
	if cfg.API.MaxIncludeDepth < 0 {
		add("api.max_include_depth must not be negative, got: %d", cfg.API.MaxIncludeDepth)
	}
	if cfg.API.MaxBodyBytes <= 0 {
		add("api.max_body_bytes must be positive, got: %d", cfg.API.MaxBodyBytes)
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		add("log.format must be json or console, got: %q", cfg.Log.Format)
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Requests <= 0 {
			add("ratelimit.requests must be positive, got: %d", cfg.RateLimit.Requests)
		}
		if cfg.RateLimit.Window <= 0 {
			add("ratelimit.window must be positive, got: %s", cfg.RateLimit.Window)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
