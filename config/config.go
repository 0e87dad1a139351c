package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research backend
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configuration
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	Routing    LLMRoutingConfig    `mapstructure:"routing"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles which phase of a research run
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`  // plan generation
	Steps     string `mapstructure:"steps"`     // step execution
	Reporting string `mapstructure:"reporting"` // final report synthesis
	Fallback  string `mapstructure:"fallback"`
}

// ResearchConfig controls the orchestration engine
type ResearchConfig struct {
	MaxConcurrentSteps int           `mapstructure:"max_concurrent_steps"`
	StepTimeout        time.Duration `mapstructure:"step_timeout"`
	EventBuffer        int           `mapstructure:"event_buffer"`
}

// SearchConfig contains web search settings
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// APIKey returns the key matching the configured provider.
func (c SearchConfig) APIKey() string {
	if c.Provider == "brave" {
		return c.BraveAPIKey
	}
	return c.SerperAPIKey
}

// FetchConfig contains page fetch and extraction settings
type FetchConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
	MaxChars  int `mapstructure:"max_chars"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr renders the redis host:port pair.
func (c RedisConfig) Addr() string {
	port := c.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", c.Host, port)
}

// ArchiveConfig controls the bleve report index
type ArchiveConfig struct {
	Path string `mapstructure:"path"` // empty means in-memory
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// SchedulerConfig controls the watch scheduler
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoadConfig loads configuration from a file (optional) plus environment overrides
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("qurio")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("QURIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "60s")

	v.SetDefault("server.address", ":10010")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.routing.planning", "gpt-4o")
	v.SetDefault("llm.routing.steps", "gpt-4o")
	v.SetDefault("llm.routing.reporting", "gpt-4o")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	v.SetDefault("research.max_concurrent_steps", 4)
	v.SetDefault("research.step_timeout", "5m")
	v.SetDefault("research.event_buffer", 64)

	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.max_results", 8)
	v.SetDefault("search.timeout", "15s")

	v.SetDefault("fetch.timeout_ms", 15000)
	v.SetDefault("fetch.max_chars", 20000)

	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "1m")
}

// overrideFromEnv maps well-known environment variables onto sensitive fields.
func overrideFromEnv(v *viper.Viper) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		v.Set("llm.api_key", key)
	}
	if key := os.Getenv("SERPER_API_KEY"); key != "" {
		v.Set("search.serper_api_key", key)
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		v.Set("search.brave_api_key", key)
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		v.Set("storage.postgres.url", dsn)
	}
	if secret := os.Getenv("QURIO_JWT_SECRET"); secret != "" {
		v.Set("server.jwt_secret", secret)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.LLM.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	if cfg.Research.MaxConcurrentSteps <= 0 {
		return fmt.Errorf("research.max_concurrent_steps must be positive")
	}
	if cfg.Research.EventBuffer < 0 {
		return fmt.Errorf("research.event_buffer must not be negative")
	}
	switch cfg.Search.Provider {
	case "", "serper", "brave":
	default:
		return fmt.Errorf("unsupported search provider: %s", cfg.Search.Provider)
	}
	return nil
}

// DSN assembles a connection string from the postgres settings.
func (c PostgresConfig) DSN() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.Host == "" || c.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := c.Port
	if port == "" {
		port = "5432"
	}
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, port, c.DBName, ssl), nil
}

// Model resolves a routing entry to a model name, falling back to the
// fallback model when the route is unset.
func (c LLMConfig) Model(route string) string {
	name := ""
	switch route {
	case "planning":
		name = c.Routing.Planning
	case "steps":
		name = c.Routing.Steps
	case "reporting":
		name = c.Routing.Reporting
	}
	if name == "" {
		name = c.Routing.Fallback
	}
	return name
}

// ModelParams returns the sampling settings configured for a model, matched
// by map key, name or API name. Unknown models get zero values, which the
// client omits from requests.
func (c LLMConfig) ModelParams(model string) (temperature float64, maxTokens int) {
	for key, m := range c.Models {
		if key == model || m.Name == model || m.APIName == model {
			return m.Temperature, m.MaxTokens
		}
	}
	return 0, 0
}
