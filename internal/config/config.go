// Package config handles loading and validating Soga configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Soga.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.soga/data. Override: SOGA_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Server        ServerConfig         `json:"server" yaml:"server"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Chat          ChatConfig           `json:"chat" yaml:"chat"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = retention sweeper disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: SOGA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ServerConfig configures the HTTP API gateway.
type ServerConfig struct {
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → user ID.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	WebSocket           bool              `json:"websocket" yaml:"websocket"` // Enable the WebSocket chat endpoint.
}

// Addr returns the listen address with a default of ":8080".
func (s ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures per-user rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ProvidersConfig selects and configures the LLM backends.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic", "openai", "ollama". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY env var.
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// ChatConfig tunes the turn orchestration.
type ChatConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Empty = DefaultSystemPrompt.
	HistoryLimit int    `json:"history_limit" yaml:"history_limit"`                     // Default: 50.
	MaxTokens    int    `json:"max_tokens" yaml:"max_tokens"`                           // Default: provider default.
}

// DefaultSystemPrompt is the assistant persona used when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Be concise and accurate. " +
	"If you do not know something, say so instead of guessing."

// Prompt returns the system prompt with the built-in default.
func (c ChatConfig) Prompt() string {
	if c.SystemPrompt != "" {
		return c.SystemPrompt
	}
	return DefaultSystemPrompt
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "soga"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// RetentionConfig configures the idle-conversation sweeper.
// When nil, conversations are kept forever.
type RetentionConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	MaxIdleDays int    `json:"max_idle_days" yaml:"max_idle_days"` // Default: 90.
	Schedule    string `json:"schedule" yaml:"schedule"`           // Cron spec. Default: "@daily".
}

// MaxIdle returns the idle cutoff age with a default of 90 days.
func (r *RetentionConfig) MaxIdle() time.Duration {
	if r != nil && r.MaxIdleDays > 0 {
		return time.Duration(r.MaxIdleDays) * 24 * time.Hour
	}
	return 90 * 24 * time.Hour
}

// CronSchedule returns the cron spec with a default of "@daily".
func (r *RetentionConfig) CronSchedule() string {
	if r != nil && r.Schedule != "" {
		return r.Schedule
	}
	return "@daily"
}

// DefaultConfigPath returns the default config file path (~/.soga/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/soga.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".soga", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys can be set in the config file or
// overridden by environment variables; environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets environment variables take precedence over file values.
func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envDD := os.Getenv("SOGA_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("SOGA_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".soga", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "soga.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

func (c *Config) validate() error {
	// Default provider to anthropic.
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(c.Providers.Default); err != nil {
		return err
	}
	for _, name := range c.Providers.Fallback {
		if err := c.validateProvider(name); err != nil {
			return fmt.Errorf("fallback provider: %w", err)
		}
	}

	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set SOGA_DB_DSN env var)")
		}
	}

	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit must not be negative")
	}
	if c.Server.MaxRequestSizeBytes < 0 {
		return fmt.Errorf("server.max_request_size_bytes must not be negative")
	}
	if rl := c.Server.RateLimit; rl.RequestsPerMinute < 0 || rl.BurstSize < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	if c.Retention != nil && c.Retention.Enabled && c.Retention.MaxIdleDays < 0 {
		return fmt.Errorf("retention.max_idle_days must not be negative")
	}
	return nil
}

// validateProvider checks that the named LLM provider has the required fields.
func (c *Config) validateProvider(name string) error {
	switch name {
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("provider %q is not supported (use anthropic, openai, or ollama)", name)
	}
	return nil
}
