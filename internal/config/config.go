// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.maestro/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Models: chat / analysis / embedder model identifiers ("<provider>:<model>")
//   - Orchestration: agent step budget, history window, cache TTL
//   - Storage: PostgreSQL connection (see storage.go), Redis
//   - Broker: integration broker endpoint and API key
//   - Observability: OTLP trace export
//
// Security: sensitive values (passwords, API keys) are masked in MarshalJSON.
// Validation: fail-fast range checks with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelID indicates a model identifier is not of the form
	// "<provider>:<model>".
	ErrInvalidModelID = errors.New("invalid model identifier")

	// ErrInvalidMaxAgentSteps indicates the agent step budget is out of range.
	ErrInvalidMaxAgentSteps = errors.New("invalid max agent steps")

	// ErrInvalidHistoryLimit indicates the conversation history window is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid conversation history limit")

	// ErrInvalidCacheTTL indicates the cache TTL is out of range.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidRedisPort indicates the Redis port is out of range.
	ErrInvalidRedisPort = errors.New("invalid Redis port")

	// ErrMissingBrokerAPIKey indicates the broker API key is not set.
	ErrMissingBrokerAPIKey = errors.New("missing broker API key")
)

// Defaults for the orchestration pipeline.
const (
	DefaultChatModel     = "openai:gpt-4o-mini"
	DefaultAnalysisModel = "google:gemini-2.0-flash"

	// DefaultEmbedderModel produces 1536-dimension vectors, matching the
	// tool_embeddings schema.
	DefaultEmbedderModel = "openai:text-embedding-3-small"

	DefaultMaxAgentSteps          = 8
	DefaultMaxConversationHistory = 10
	DefaultCacheTTLSeconds        = 300
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Model identifiers of the form "<provider>:<model>"
	ChatModel     string `mapstructure:"chat_model" json:"chat_model"`
	AnalysisModel string `mapstructure:"analysis_model" json:"analysis_model"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Orchestration
	MaxAgentSteps          int  `mapstructure:"max_agent_steps" json:"max_agent_steps"`
	MaxConversationHistory int  `mapstructure:"max_conversation_history" json:"max_conversation_history"`
	CacheTTLSeconds        int  `mapstructure:"cache_ttl" json:"cache_ttl"`
	DegradedMode           bool `mapstructure:"degraded_mode" json:"degraded_mode"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	RedisHost     string `mapstructure:"redis_host" json:"redis_host"`
	RedisPort     int    `mapstructure:"redis_port" json:"redis_port"`
	RedisPassword string `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON

	// Integration broker
	BrokerBaseURL string `mapstructure:"broker_base_url" json:"broker_base_url"`
	BrokerAPIKey  string `mapstructure:"broker_api_key" json:"broker_api_key"` // SENSITIVE: masked in MarshalJSON

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Observability (OTLP trace export; empty endpoint disables tracing)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".maestro")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("chat_model", DefaultChatModel)
	v.SetDefault("analysis_model", DefaultAnalysisModel)
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("max_agent_steps", DefaultMaxAgentSteps)
	v.SetDefault("max_conversation_history", DefaultMaxConversationHistory)
	v.SetDefault("cache_ttl", DefaultCacheTTLSeconds)
	v.SetDefault("degraded_mode", false)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "maestro")
	v.SetDefault("postgres_password", "maestro_dev_password")
	v.SetDefault("postgres_db_name", "maestro")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)

	v.SetDefault("broker_base_url", "https://backend.composio.dev")

	v.SetDefault("listen_addr", "127.0.0.1:3400")

	v.SetDefault("service_name", "maestro")
	v.SetDefault("environment", "dev")
}

// bindEnvVariables binds the enumerated environment variables explicitly.
// Provider API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the
// Genkit plugins, not via Viper; Validate does not check them.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys can't fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("chat_model", "CHAT_MODEL")
	mustBind("analysis_model", "ANALYSIS_MODEL")
	mustBind("embedder_model", "EMBEDDER_MODEL")
	mustBind("max_agent_steps", "MAX_AGENT_STEPS")
	mustBind("max_conversation_history", "MAX_CONVERSATION_HISTORY")
	mustBind("cache_ttl", "CACHE_TTL")
	mustBind("degraded_mode", "MAESTRO_DEGRADED_MODE")
	mustBind("redis_host", "REDIS_HOST")
	mustBind("redis_port", "REDIS_PORT")
	mustBind("redis_password", "REDIS_PASSWORD")
	mustBind("broker_base_url", "BROKER_BASE_URL")
	mustBind("broker_api_key", "BROKER_API_KEY")
	mustBind("listen_addr", "MAESTRO_ADDR")
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("service_name", "MAESTRO_SERVICE_NAME")
	mustBind("environment", "MAESTRO_ENVIRONMENT")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 bytes or
// fewer are fully masked to prevent substring matching; longer secrets keep
// the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.RedisPassword = maskSecret(a.RedisPassword)
	a.BrokerAPIKey = maskSecret(a.BrokerAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// RedisAddr returns the host:port address for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Validate checks all configuration values and returns the first violation.
func (c *Config) Validate() error {
	for _, id := range []string{c.ChatModel, c.AnalysisModel, c.EmbedderModel} {
		if _, _, ok := strings.Cut(id, ":"); !ok || id == "" {
			return fmt.Errorf("%w: %q (want \"<provider>:<model>\")", ErrInvalidModelID, id)
		}
	}
	if c.MaxAgentSteps < 1 || c.MaxAgentSteps > 64 {
		return fmt.Errorf("%w: %d (want 1-64)", ErrInvalidMaxAgentSteps, c.MaxAgentSteps)
	}
	if c.MaxConversationHistory < 1 || c.MaxConversationHistory > 1000 {
		return fmt.Errorf("%w: %d (want 1-1000)", ErrInvalidHistoryLimit, c.MaxConversationHistory)
	}
	if c.CacheTTLSeconds < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCacheTTL, c.CacheTTLSeconds)
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.RedisPort < 1 || c.RedisPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidRedisPort, c.RedisPort)
	}
	return nil
}

// ValidateServe checks the additional requirements of serve mode: the broker
// API key must be present to execute tools on behalf of users.
func (c *Config) ValidateServe() error {
	if c.BrokerAPIKey == "" {
		return ErrMissingBrokerAPIKey
	}
	return nil
}
