// Package config provides YAML-based configuration loading for Frameforge.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinTokenSecretLen is the minimum length of the bot token sealing secret.
const MinTokenSecretLen = 32

// Config is the top-level Frameforge configuration, loaded from frameforge.yaml.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	Security    SecurityConfig    `yaml:"security"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Logger      LoggerConfig      `yaml:"logger"`
	Redis       RedisConfig       `yaml:"redis"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// DatabaseConfig selects the relational store. Driver is "mysql" or "sqlite".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"` // sqlite only
}

// ServerConfig holds panel API listener settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	PanelOrigin  string `yaml:"panel_origin"`
	Production   bool   `yaml:"production"`
	CookieSecure bool   `yaml:"cookie_secure"`
}

// SecurityConfig holds secrets and session lifetime.
type SecurityConfig struct {
	TokenSecret     string `yaml:"token_secret"`
	SessionTTLHours int    `yaml:"session_ttl_hours"`
}

// SupervisorConfig tunes the automaton supervisor.
type SupervisorConfig struct {
	ShutdownTimeoutSec     int    `yaml:"shutdown_timeout_sec"`
	GearShutdownTimeoutSec int    `yaml:"gear_shutdown_timeout_sec"`
	BaselineCommand        string `yaml:"baseline_command"`
}

// LoggerConfig controls the zap logger.
type LoggerConfig struct {
	Level  string        `yaml:"level"`
	Output string        `yaml:"output"` // console, file, both
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig is the file sink used when Output is "file" or "both".
type LogFileConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig enables the live log feed. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// MaintenanceConfig schedules housekeeping jobs.
type MaintenanceConfig struct {
	Cron             string `yaml:"cron"`
	LogRetentionDays int    `yaml:"log_retention_days"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3011
	}
	if c.Security.SessionTTLHours == 0 {
		c.Security.SessionTTLHours = 12
	}
	if c.Supervisor.ShutdownTimeoutSec == 0 {
		c.Supervisor.ShutdownTimeoutSec = 5
	}
	if c.Supervisor.GearShutdownTimeoutSec == 0 {
		c.Supervisor.GearShutdownTimeoutSec = 2
	}
	if c.Supervisor.BaselineCommand == "" {
		c.Supervisor.BaselineCommand = "frameforge"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Output == "" {
		c.Logger.Output = "console"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "frameforge:logs"
	}
	if c.Maintenance.Cron == "" {
		c.Maintenance.Cron = "0 * * * *"
	}
	if c.Maintenance.LogRetentionDays == 0 {
		c.Maintenance.LogRetentionDays = 30
	}
}

// applyEnv overlays secrets from the environment so they can stay out of
// the YAML file.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("FRAMEFORGE_TOKEN_SECRET"); v != "" {
		c.Security.TokenSecret = v
	} else if v := getenv("DISCORD_TOKEN_SECRET"); v != "" && c.Security.TokenSecret == "" {
		c.Security.TokenSecret = v
	}
	if v := getenv("FRAMEFORGE_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := getenv("FRAMEFORGE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	if len(c.Security.TokenSecret) < MinTokenSecretLen {
		errs = append(errs, fmt.Sprintf("security.token_secret must be at least %d chars", MinTokenSecretLen))
	}
	if c.Security.SessionTTLHours < 0 {
		errs = append(errs, "security.session_ttl_hours must be positive")
	}
	if c.Supervisor.ShutdownTimeoutSec < 0 || c.Supervisor.GearShutdownTimeoutSec < 0 {
		errs = append(errs, "supervisor timeouts must be positive")
	}
	if c.Supervisor.GearShutdownTimeoutSec > c.Supervisor.ShutdownTimeoutSec {
		errs = append(errs, "supervisor.gear_shutdown_timeout_sec must not exceed shutdown_timeout_sec")
	}
	switch c.Logger.Output {
	case "console":
	case "file", "both":
		if c.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required for file output")
		}
	default:
		errs = append(errs, fmt.Sprintf("logger.output %q is not supported (console, file, both)", c.Logger.Output))
	}
	if c.Maintenance.LogRetentionDays < 0 {
		errs = append(errs, "maintenance.log_retention_days must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ShutdownTimeout returns the bounded wait for a worker's shutdown ack.
func (c SupervisorConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// GearShutdownTimeout returns the per-gear bound inside a worker teardown.
func (c SupervisorConfig) GearShutdownTimeout() time.Duration {
	return time.Duration(c.GearShutdownTimeoutSec) * time.Second
}

// SessionTTL returns the panel session lifetime.
func (c SecurityConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// LogRetention returns how long log entries are kept.
func (c MaintenanceConfig) LogRetention() time.Duration {
	return time.Duration(c.LogRetentionDays) * 24 * time.Hour
}

// Addr returns the panel listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
