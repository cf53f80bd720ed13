// Package config provides Viper-based configuration loading for the crawl server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ShutdownTimeout bounds how long graceful shutdown may take.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GatewayConfig holds per-connection WebSocket tuning.
type GatewayConfig struct {
	// AuthWindow is how long a connection may stay unauthenticated before
	// it is closed.
	AuthWindow time.Duration `mapstructure:"auth_window"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongTimeout is how long a connection may go without a pong before
	// the read pump gives up on it.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	// MaxMessageBytes caps the size of a single inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// OutboxSize is the capacity of the per-connection outbound queue.
	OutboxSize int `mapstructure:"outbox_size"`
}

// PingInterval returns the keepalive ping period, kept under PongTimeout so
// a healthy peer always has a ping in flight before its deadline lapses.
func (g GatewayConfig) PingInterval() time.Duration {
	return g.PongTimeout * 9 / 10
}

// SessionConfig holds game session tuning.
type SessionConfig struct {
	// MaxPlayers is the roster capacity of a single session.
	MaxPlayers int `mapstructure:"max_players"`
	// ActionsPerRound is the shared action budget the party spends each round.
	ActionsPerRound int `mapstructure:"actions_per_round"`
	// DisconnectDeadline is how long a disconnected player's slot and entity
	// are preserved for reconnection.
	DisconnectDeadline time.Duration `mapstructure:"disconnect_deadline"`
	// GracePeriod is how long a finished or emptied session lingers before
	// teardown.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// SweepInterval is how often the manager visits sessions to expire
	// deadlines and evict dead sessions.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// ChatHistory is the number of chat messages a session retains.
	ChatHistory int `mapstructure:"chat_history"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGateway(c.Gateway); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if g.AuthWindow <= 0 {
		errs = append(errs, fmt.Sprintf("gateway.auth_window must be positive, got %s", g.AuthWindow))
	}
	if g.WriteTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("gateway.write_timeout must be positive, got %s", g.WriteTimeout))
	}
	if g.PongTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("gateway.pong_timeout must be positive, got %s", g.PongTimeout))
	}
	if g.MaxMessageBytes < 256 {
		errs = append(errs, fmt.Sprintf("gateway.max_message_bytes must be >= 256, got %d", g.MaxMessageBytes))
	}
	if g.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("gateway.outbox_size must be >= 1, got %d", g.OutboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.MaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("session.max_players must be >= 1, got %d", s.MaxPlayers))
	}
	if s.ActionsPerRound < 1 {
		errs = append(errs, fmt.Sprintf("session.actions_per_round must be >= 1, got %d", s.ActionsPerRound))
	}
	if s.DisconnectDeadline <= 0 {
		errs = append(errs, fmt.Sprintf("session.disconnect_deadline must be positive, got %s", s.DisconnectDeadline))
	}
	if s.GracePeriod < 0 {
		errs = append(errs, "session.grace_period must not be negative")
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, fmt.Sprintf("session.sweep_interval must be positive, got %s", s.SweepInterval))
	}
	if s.ChatHistory < 0 {
		errs = append(errs, "session.chat_history must not be negative")
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

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with CRAWLD_ prefix
	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is supplied.
//
// Postcondition: Returns a Config that passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not unmarshal: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4400)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("gateway.auth_window", "30s")
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.pong_timeout", "60s")
	v.SetDefault("gateway.max_message_bytes", 8192)
	v.SetDefault("gateway.outbox_size", 256)

	v.SetDefault("session.max_players", 4)
	v.SetDefault("session.actions_per_round", 4)
	v.SetDefault("session.disconnect_deadline", "120s")
	v.SetDefault("session.grace_period", "60s")
	v.SetDefault("session.sweep_interval", "1s")
	v.SetDefault("session.chat_history", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
