package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "FLOWFORGE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "FLOWFORGE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (FLOWFORGE_*)
// 3. Project config (.flowforge.yaml in current directory)
// 4. User config (~/.config/flowforge/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".flowforge")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "flowforge"))
		}
	}

	// Missing config file is fine, defaults apply
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.enable_cors", true)

	l.v.SetDefault("state.path", ".flowforge/state/flowforge.db")

	l.v.SetDefault("queue.workers", 4)
	l.v.SetDefault("queue.poll_interval", "2s")
	l.v.SetDefault("queue.invoke_timeout", "120s")
	l.v.SetDefault("queue.max_retries", 3)
	l.v.SetDefault("queue.backoff_base", "5s")
	l.v.SetDefault("queue.backoff_max", "5m")
	l.v.SetDefault("queue.reaper_interval", "60s")
	l.v.SetDefault("queue.reaper_timeout", "10m")

	l.v.SetDefault("providers.default", "openai")
	l.v.SetDefault("providers.model", "gpt-4o")
	l.v.SetDefault("providers.openai.enabled", true)
	l.v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("providers.openai.timeout", "120s")
	l.v.SetDefault("providers.anthropic.enabled", false)
	l.v.SetDefault("providers.anthropic.base_url", "https://api.anthropic.com/v1")
	l.v.SetDefault("providers.anthropic.timeout", "120s")

	l.v.SetDefault("definitions.dir", ".flowforge/definitions")
	l.v.SetDefault("definitions.watch", true)

	l.v.SetDefault("publish.dir", ".flowforge/published")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
