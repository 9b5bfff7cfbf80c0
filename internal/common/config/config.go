// Package config provides configuration management for the controller.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the controller.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Agent     AgentConfig     `mapstructure:"agent"`
	WorkerRPC WorkerRPCConfig `mapstructure:"workerRpc"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
}

// ServerConfig holds the admin/health HTTP server configuration. Request
// routing itself is out of scope for the controller core.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// DataDir holds local controller state that isn't in the database,
	// currently just the at-rest encryption master key.
	DataDir string `mapstructure:"dataDir"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`

	// SQLite-only tunables; zero values fall back to the driver's
	// defaults (5s busy timeout, 4 reader connections).
	BusyTimeoutMs int `mapstructure:"busyTimeoutMs"`
	ReaderConns   int `mapstructure:"readerConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// AuthConfig holds credential-minting configuration for the short-lived
// control-plane token pushed to workers via /update-ariana-token.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds, ~15 minutes
}

// PoolConfig holds machine-pool capacity configuration.
type PoolConfig struct {
	MaxActiveMachines int    `mapstructure:"maxActiveMachines"`
	SpritesAPIToken   string `mapstructure:"spritesApiToken"`
}

// AgentConfig holds agent lifecycle tuning knobs. The ghost-agent and
// machine-death thresholds are explicitly called out as production
// tunables in the design notes.
type AgentConfig struct {
	LifetimeUnitMinutes   int `mapstructure:"lifetimeUnitMinutes"`
	GhostTimeoutSeconds   int `mapstructure:"ghostTimeoutSeconds"`   // default 180 (3 min)
	DeathFailureThreshold int `mapstructure:"deathFailureThreshold"` // default 5 ticks
	StateLogicIntervalMs  int `mapstructure:"stateLogicIntervalMs"`  // default 3000ms -> 5 ticks ~ 15s
	PollIntervalMs        int `mapstructure:"pollIntervalMs"`
	MaxConcurrentPolls    int `mapstructure:"maxConcurrentPolls"`
	ContextEventRetentionDays int `mapstructure:"contextEventRetentionDays"` // default 30
}

// OAuthConfig holds the subscription-provider OAuth client used to
// refresh an agent's model-provider access token.
type OAuthConfig struct {
	ClientID     string `mapstructure:"clientId"`
	ClientSecret string `mapstructure:"clientSecret"`
	TokenURL     string `mapstructure:"tokenUrl"`
}

// WorkerRPCConfig holds the per-call timeout tiers for the worker RPC client.
type WorkerRPCConfig struct {
	PollTimeoutMs       int `mapstructure:"pollTimeoutMs"`       // default 1500
	StateLogicTimeoutMs int `mapstructure:"stateLogicTimeoutMs"` // default 5000
	CommitPushTimeoutMs int `mapstructure:"commitPushTimeoutMs"` // default 30000
}

func (w WorkerRPCConfig) PollTimeout() time.Duration {
	return time.Duration(w.PollTimeoutMs) * time.Millisecond
}

func (w WorkerRPCConfig) StateLogicTimeout() time.Duration {
	return time.Duration(w.StateLogicTimeoutMs) * time.Millisecond
}

func (w WorkerRPCConfig) CommitPushTimeout() time.Duration {
	return time.Duration(w.CommitPushTimeoutMs) * time.Millisecond
}

// TokenDurationTime returns the control-plane token lifetime as a Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// GhostTimeout returns the ghost-agent detection threshold as a Duration.
func (a *AgentConfig) GhostTimeout() time.Duration {
	return time.Duration(a.GhostTimeoutSeconds) * time.Second
}

// detectDefaultLogFormat returns "json" under Kubernetes/production,
// "text" otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CONTROLLER_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dataDir", ".")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./agentcore.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentcore")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)
	v.SetDefault("database.busyTimeoutMs", 5000)
	v.SetDefault("database.readerConns", 4)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentcore-controller")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 900) // 15 minutes

	v.SetDefault("pool.maxActiveMachines", 50)

	v.SetDefault("agent.lifetimeUnitMinutes", 20)
	v.SetDefault("agent.ghostTimeoutSeconds", 180)
	v.SetDefault("agent.deathFailureThreshold", 5)
	v.SetDefault("agent.stateLogicIntervalMs", 3000)
	v.SetDefault("agent.pollIntervalMs", 2000)
	v.SetDefault("agent.maxConcurrentPolls", 32)
	v.SetDefault("agent.contextEventRetentionDays", 30)

	v.SetDefault("workerRpc.pollTimeoutMs", 1500)
	v.SetDefault("workerRpc.stateLogicTimeoutMs", 5000)
	v.SetDefault("workerRpc.commitPushTimeoutMs", 30000)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTCORE_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "AGENTCORE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "AGENTCORE_EVENTS_NAMESPACE")
	_ = v.BindEnv("pool.maxActiveMachines", "MAX_ACTIVE_MACHINES")
	_ = v.BindEnv("pool.spritesApiToken", "SPRITES_API_TOKEN")
	_ = v.BindEnv("agent.lifetimeUnitMinutes", "AGENT_LIFETIME_UNIT_MINUTES")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentcore/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Pool.MaxActiveMachines <= 0 {
		errs = append(errs, "pool.maxActiveMachines must be positive")
	}
	if cfg.Agent.LifetimeUnitMinutes <= 0 {
		errs = append(errs, "agent.lifetimeUnitMinutes must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func generateDevSecret() string {
	return "dev-secret-change-in-production"
}
