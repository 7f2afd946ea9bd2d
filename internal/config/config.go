// Package config provides Viper-based configuration loading for the hexbound server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends accepted by combat.store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// ServerConfig holds top-level process settings.
type ServerConfig struct {
	// Name identifies this process in logs.
	Name string `mapstructure:"name"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP and gRPC listeners.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// GatewayConfig holds the realtime HTTP/WebSocket listener settings.
type GatewayConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is how often idle sockets are pinged; pongs must arrive within twice this.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// AllowedOrigins lists accepted Origin headers; empty accepts any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// SendBuffer is the per-connection outbound event queue depth.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// CombatConfig holds encounter engine settings.
type CombatConfig struct {
	// Store selects the persistence backend: "memory" or "postgres".
	Store string `mapstructure:"store"`
	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	// DefaultSpeed is the movement granted to actors without stats.
	DefaultSpeed int `mapstructure:"default_speed"`
	// TurnTimeout auto-ends a turn after this long; 0 disables.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

// UserConfig is one account allowed to log in.
type UserConfig struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Role         string   `mapstructure:"role"`
	Tokens       []string `mapstructure:"tokens"`
}

// AuthConfig holds login and token verification settings.
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []UserConfig  `mapstructure:"users"`
}

// CatalogConfig holds rules-content feed settings.
type CatalogConfig struct {
	// FeedURL is the base URL of the SRD rules API.
	FeedURL string `mapstructure:"feed_url"`
	// SeedLimit caps how many monsters are fetched per seeding run.
	SeedLimit int `mapstructure:"seed_limit"`
	// SeedOnStart runs the seeder in the background when the server starts.
	SeedOnStart    bool          `mapstructure:"seed_on_start"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HealthConfig holds the gRPC health endpoint settings.
type HealthConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Combat   CombatConfig   `mapstructure:"combat"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Health   HealthConfig   `mapstructure:"health"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Combat.Store == StorePostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateGateway(c.Gateway); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateCombat(c.Combat); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAuth(c.Auth); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateCatalog(c.Catalog); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		errs = append(errs, fmt.Sprintf("health.port must be 0-65535, got %d", c.Health.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	if s.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if g.Port < 1 || g.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port must be 1-65535, got %d", g.Port))
	}
	if g.ReadTimeout < 0 {
		errs = append(errs, "gateway.read_timeout must not be negative")
	}
	if g.WriteTimeout < 0 {
		errs = append(errs, "gateway.write_timeout must not be negative")
	}
	if g.PingInterval <= 0 {
		errs = append(errs, "gateway.ping_interval must be positive")
	}
	if g.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("gateway.send_buffer must be >= 1, got %d", g.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateCombat(c CombatConfig) error {
	var errs []string
	if c.Store != StoreMemory && c.Store != StorePostgres {
		errs = append(errs, fmt.Sprintf("combat.store must be one of [memory, postgres], got %q", c.Store))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, "combat.store_timeout must be positive")
	}
	if c.DefaultSpeed < 0 {
		errs = append(errs, fmt.Sprintf("combat.default_speed must be >= 0, got %d", c.DefaultSpeed))
	}
	if c.TurnTimeout < 0 {
		errs = append(errs, "combat.turn_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	if len(a.JWTSecret) < 16 {
		errs = append(errs, "auth.jwt_secret must be at least 16 bytes when auth is enabled")
	}
	if a.TokenTTL <= 0 {
		errs = append(errs, "auth.token_ttl must be positive")
	}
	for i, u := range a.Users {
		if u.Username == "" || u.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("auth.users[%d] needs username and password_hash", i))
		}
		if u.Role != "player" && u.Role != "moderator" {
			errs = append(errs, fmt.Sprintf("auth.users[%d].role must be player or moderator, got %q", i, u.Role))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCatalog(c CatalogConfig) error {
	var errs []string
	if c.FeedURL == "" {
		errs = append(errs, "catalog.feed_url must not be empty")
	}
	if c.SeedLimit < 0 {
		errs = append(errs, fmt.Sprintf("catalog.seed_limit must be >= 0, got %d", c.SeedLimit))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "catalog.request_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// NewViper returns a Viper instance with defaults and HEXBOUND_ environment overrides applied.
// path may be empty to run on defaults and environment alone.
//
// Postcondition: Returns a ready Viper or an error if path cannot be read.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()

	// Environment variable overrides with HEXBOUND_ prefix
	v.SetEnvPrefix("HEXBOUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file, or empty.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "hexbound")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "hexbound")
	v.SetDefault("database.password", "hexbound")
	v.SetDefault("database.name", "hexbound")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.read_timeout", "15s")
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.ping_interval", "30s")
	v.SetDefault("gateway.send_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("combat.store", StoreMemory)
	v.SetDefault("combat.store_timeout", "2s")
	v.SetDefault("combat.default_speed", 6)
	v.SetDefault("combat.turn_timeout", "0s")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.issuer", "hexbound")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("catalog.feed_url", "https://www.dnd5eapi.co")
	v.SetDefault("catalog.seed_limit", 10)
	v.SetDefault("catalog.seed_on_start", false)
	v.SetDefault("catalog.request_timeout", "10s")

	v.SetDefault("health.host", "127.0.0.1")
	v.SetDefault("health.port", 50051)
}
