package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	State       StateConfig       `mapstructure:"state"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Publish     PublishConfig     `mapstructure:"publish"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

// StateConfig configures the SQLite store.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig configures the worker pool and the reaper.
type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	InvokeTimeout  time.Duration `mapstructure:"invoke_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	ReaperTimeout  time.Duration `mapstructure:"reaper_timeout"`
}

// ProvidersConfig configures capability providers.
type ProvidersConfig struct {
	Default      string                      `mapstructure:"default"`
	Model        string                      `mapstructure:"model"`
	OpenAI       ProviderConfig              `mapstructure:"openai"`
	Anthropic    ProviderConfig              `mapstructure:"anthropic"`
	Capabilities map[string]CapabilityConfig `mapstructure:"capabilities"`
}

// ProviderConfig configures a single provider endpoint.
type ProviderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CapabilityConfig configures one named capability.
type CapabilityConfig struct {
	SystemPrompt string  `mapstructure:"system_prompt"`
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
}

// DefinitionsConfig configures workflow definition loading.
type DefinitionsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// PublishConfig configures where publish steps write artifacts.
type PublishConfig struct {
	Dir string `mapstructure:"dir"`
}
