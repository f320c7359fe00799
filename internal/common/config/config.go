// Package config provides configuration management for the Donna orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds lifecycle record storage configuration.
// Driver selects the store implementation: "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// DSN returns the postgres connection string for the pgx pool.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// WorkspaceConfig holds Git workspace configuration for concurrent agent sessions.
type WorkspaceConfig struct {
	RepoPath     string `mapstructure:"repoPath"`     // Main repository checkout
	BasePath     string `mapstructure:"basePath"`     // Base directory for per-session checkouts
	BaseBranch   string `mapstructure:"baseBranch"`   // Branch sessions fork from and merge into
	BranchPrefix string `mapstructure:"branchPrefix"` // Prefix for generated session branches
}

// AgentConfig holds configuration for the underlying agent process.
type AgentConfig struct {
	Command      string   `mapstructure:"command"`      // Agent CLI binary
	Args         []string `mapstructure:"args"`         // Extra arguments appended to the base invocation
	SystemPrompt string   `mapstructure:"systemPrompt"` // Default system prompt for new sessions
}

// SandboxConfig holds Docker sandbox configuration. When enabled, the agent
// process runs inside a container with the workspace bind-mounted.
type SandboxConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Image      string  `mapstructure:"image"`
	Host       string  `mapstructure:"host"`
	APIVersion string  `mapstructure:"apiVersion"`
	MemoryMB   int64   `mapstructure:"memoryMb"`
	CPUCores   float64 `mapstructure:"cpuCores"`
}

// NotifyConfig holds notification channel configuration.
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"botToken"`
	ChatID   int64  `mapstructure:"chatId"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("DONNA_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "~/.donna/sessions.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "donna")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "donna")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "donna-orchestrator")
	v.SetDefault("nats.maxReconnects", 10)

	// Workspace defaults
	v.SetDefault("workspace.repoPath", "")
	v.SetDefault("workspace.basePath", "~/.donna/workspaces")
	v.SetDefault("workspace.baseBranch", "main")
	v.SetDefault("workspace.branchPrefix", "donna/")

	// Agent defaults
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.systemPrompt", "")

	// Sandbox defaults
	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.image", "donna-agent:latest")
	v.SetDefault("sandbox.host", "unix:///var/run/docker.sock")
	v.SetDefault("sandbox.apiVersion", "1.41")
	v.SetDefault("sandbox.memoryMb", 2048)
	v.SetDefault("sandbox.cpuCores", 2.0)

	// Notify defaults
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.botToken", "")
	v.SetDefault("notify.chatId", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DONNA_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/donna/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("DONNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("workspace.repoPath", "DONNA_WORKSPACE_REPO_PATH")
	_ = v.BindEnv("workspace.basePath", "DONNA_WORKSPACE_BASE_PATH")
	_ = v.BindEnv("workspace.baseBranch", "DONNA_WORKSPACE_BASE_BRANCH")
	_ = v.BindEnv("notify.botToken", "DONNA_NOTIFY_BOT_TOKEN")
	_ = v.BindEnv("notify.chatId", "DONNA_NOTIFY_CHAT_ID")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/donna/")

	// Read config file (ignore if not found)
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

// validate checks that the configuration is internally consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres, or memory, got %q", cfg.Database.Driver)
	}
	if cfg.Agent.Command == "" {
		return fmt.Errorf("agent.command must not be empty")
	}
	if cfg.Notify.Enabled && cfg.Notify.BotToken == "" {
		return fmt.Errorf("notify.botToken is required when notify.enabled is true")
	}
	return nil
}
